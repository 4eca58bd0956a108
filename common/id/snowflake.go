package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node ids per binary so ids minted concurrently by the CLI, server and
// worker never collide.
const (
	NodeCLI    int64 = 0
	NodeServer int64 = 1
	NodeWorker int64 = 2
)

var (
	node *snowflake.Node
	once sync.Once
	err  error
)

// Init initializes the Snowflake node. Only the first call has any effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a new time-ordered run id. Falls back to the CLI node when
// Init was never called.
func New() int64 {
	if initErr := Init(NodeCLI); initErr != nil {
		panic("snowflake node unavailable: " + initErr.Error())
	}
	return node.Generate().Int64()
}

// String renders an id the way it appears in debug dump names and queue messages.
func String(v int64) string {
	return snowflake.ID(v).String()
}

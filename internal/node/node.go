package node

import "github.com/gin-gonic/gin"

// Node is a long-running process that exposes an admin router under a stable
// id.
type Node interface {
	NodeID() string
	Kind() string
	HTTPRouter() *gin.Engine
}

// Describe renders a node as kind/id for logs.
func Describe(n Node) string {
	return n.Kind() + "/" + n.NodeID()
}

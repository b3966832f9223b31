package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/ZentaChain/hubstack/pkg/crypto"
	"github.com/ZentaChain/hubstack/pkg/network"
	"github.com/ZentaChain/hubstack/pkg/protocol"
	"github.com/gin-gonic/gin"
)

// NodeView is the JSON form of a node
type NodeView struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	KeyID    string `json:"key_id,omitempty"`
}

// ConnectionView is the JSON form of a pooled connection
type ConnectionView struct {
	Node        NodeView  `json:"node"`
	Remote      string    `json:"remote"`
	Persistent  bool      `json:"persistent"`
	Established time.Time `json:"established"`
	LastUsed    time.Time `json:"last_used"`
}

// NodeInfoResponse is returned by /api/v1/node
type NodeInfoResponse struct {
	Node   NodeView `json:"node"`
	IsHub  bool     `json:"is_hub"`
	Uptime string   `json:"uptime"`
}

func nodeView(info protocol.NodeInfo) NodeView {
	v := NodeView{
		Identity: info.Identity.String(),
		Name:     info.Name,
		Address:  info.Address,
	}
	if key := info.PublicKey(); key != nil {
		v.KeyID = hex.EncodeToString(crypto.KeyID(key))
	}
	return v
}

func nodeViews(nodes []protocol.NodeInfo) []NodeView {
	views := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, nodeView(n))
	}
	return views
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleNodeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, NodeInfoResponse{
		Node:   nodeView(s.node.Self()),
		IsHub:  s.node.IsHub(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleHubs(c *gin.Context) {
	hubs := s.node.KnownHubs()
	c.JSON(http.StatusOK, gin.H{
		"count": len(hubs),
		"hubs":  nodeViews(hubs),
	})
}

func (s *Server) handleConnections(c *gin.Context) {
	conns := s.node.Connections()
	views := make([]ConnectionView, 0, len(conns))
	for _, ci := range conns {
		views = append(views, ConnectionView{
			Node:        nodeView(ci.Node),
			Remote:      ci.Remote,
			Persistent:  ci.Persistent,
			Established: ci.Established,
			LastUsed:    ci.LastUsed,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"count":       len(views),
		"connections": views,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Stats())
}

// handleLookup resolves a node by identity through the overlay.
// ?timeout= accepts a Go duration and is capped by the server config.
func (s *Server) handleLookup(c *gin.Context) {
	id, err := protocol.ParseGUID(c.Param("id"))
	if err != nil || id == protocol.EmptyGUID {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid node identity",
			Message: c.Param("id"),
		})
		return
	}

	timeout := s.config.LookupTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid timeout",
				Message: raw,
			})
			return
		}
		if timeout <= 0 || d < timeout {
			timeout = d
		}
	}

	node, err := s.node.Find(c.Request.Context(), id, timeout)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, nodeView(node))
	case errors.Is(err, network.ErrLookupTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "Lookup timed out", Message: err.Error()})
	case errors.Is(err, network.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Node not found", Message: err.Error()})
	default:
		logger.Warnf("Lookup of %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Lookup failed", Message: err.Error()})
	}
}

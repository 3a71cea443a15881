package playback

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xiaonanln/wpeplayback/network"
	"github.com/xiaonanln/wpeplayback/transport"
	wpeerrors "github.com/xiaonanln/wpeplayback/util/errors"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/wpeproto"
)

var (
	quotedNumber = regexp.MustCompile(`'(\d+)'`)
	wholeNumber  = regexp.MustCompile(`\b\d+\b`)
)

const unknownNetworkMessage = "Unknown network"

// mentionedNetworks extracts the network ids a status message talks about.
// Quoted numbers, as in "{'network': '42', 'nodes_nb': 3}", take precedence
// over bare ones.
func mentionedNetworks(message string) []int64 {
	var ids []int64
	for _, m := range quotedNumber.FindAllStringSubmatch(message, -1) {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		return ids
	}
	for _, m := range wholeNumber.FindAllString(message, -1) {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func mentions(ids []int64, networkID int64) bool {
	for _, id := range ids {
		if id == networkID {
			return true
		}
	}
	return false
}

type handlerBase struct {
	sm        *StateMachine
	networkID int64
	logger    *logger.Logger
}

// complete advances out of phase, reporting a duplicate as ignored.
func (h *handlerBase) complete(phase State) outcome {
	if !h.sm.CompletePhase(phase) {
		h.logger.Debugf("Ignoring %s response received in state %s", phase.Phase(), h.sm.State())
		return outcomeIgnored
	}
	return outcomeAccepted
}

func (h *handlerBase) reject(phase State, err error) outcome {
	if !h.sm.RejectPhase(phase, err) {
		h.logger.Debugf("Ignoring failed %s response received in state %s: %v", phase.Phase(), h.sm.State(), err)
		return outcomeIgnored
	}
	h.logger.Errorf("%v", err)
	return outcomeRejected
}

type purgeHandler struct{ handlerBase }

func (h *purgeHandler) phase() State { return Purge }

func (h *purgeHandler) handle(msg transport.Message) outcome {
	var status wpeproto.Status
	if err := status.Unmarshal(msg.Payload); err != nil {
		h.logger.Warnf("Malformed purge response: %v", err)
		return outcomeIgnored
	}
	h.logger.Debugf("Handle purge response: %s", status.String())

	if !mentions(mentionedNetworks(status.Message), h.networkID) {
		return outcomeIgnored
	}
	switch {
	case strings.Contains(status.Message, unknownNetworkMessage):
		h.logger.Infof("Nothing to purge in network %d", h.networkID)
		return h.complete(Purge)
	case status.Code == wpeproto.StatusSuccess:
		h.logger.Infof("Purged network %d", h.networkID)
		return h.complete(Purge)
	default:
		return h.reject(Purge, wpeerrors.NewProtocolError("purge", h.networkID, status.Code.String(), status.Message))
	}
}

type configureHandler struct{ handlerBase }

func (h *configureHandler) phase() State { return Configure }

func (h *configureHandler) handle(msg transport.Message) outcome {
	var status wpeproto.Status
	if err := status.Unmarshal(msg.Payload); err != nil {
		h.logger.Warnf("Malformed configure response: %v", err)
		return outcomeIgnored
	}
	h.logger.Debugf("Handle configure response: %s", status.String())

	ids := mentionedNetworks(status.Message)
	if len(ids) > 0 && !mentions(ids, h.networkID) {
		return outcomeIgnored
	}
	if status.Code != wpeproto.StatusSuccess {
		// A failure naming no network may belong to another client.
		if len(ids) == 0 {
			h.logger.Warnf("Ignoring configure failure without network id: %s", status.Message)
			return outcomeIgnored
		}
		return h.reject(Configure, wpeerrors.NewProtocolError("configure", h.networkID, status.Code.String(), status.Message))
	}
	h.logger.Infof("Configured network %d", h.networkID)
	return h.complete(Configure)
}

type fetchHandler struct {
	handlerBase
	sent []uint32
}

func (h *fetchHandler) phase() State { return Fetch }

func (h *fetchHandler) handle(msg transport.Message) outcome {
	var cd wpeproto.ConfigurationData
	if err := cd.Unmarshal(msg.Payload); err != nil {
		h.logger.Warnf("Malformed fetch response: %v", err)
		return outcomeIgnored
	}
	if int64(cd.Network) != h.networkID {
		return outcomeIgnored
	}
	h.logger.Debugf("Handle fetch response: %d nodes", len(cd.Nodes))

	if len(cd.Nodes) != len(h.sent) {
		return h.reject(Fetch, wpeerrors.NewProtocolError("fetch", h.networkID, "",
			fmt.Sprintf("configuration echo has %d nodes, sent %d", len(cd.Nodes), len(h.sent))))
	}
	echoed := make(map[uint32]bool, len(cd.Nodes))
	for _, n := range cd.Nodes {
		if n.HasAddress {
			echoed[n.Address] = true
		}
	}
	for _, addr := range h.sent {
		if !echoed[addr] {
			return h.reject(Fetch, wpeerrors.NewProtocolError("fetch", h.networkID, "",
				fmt.Sprintf("node %d is missing from the configuration echo", addr)))
		}
	}
	h.logger.Infof("Configuration of network %d verified", h.networkID)
	return h.complete(Fetch)
}

type locateHandler struct{ handlerBase }

func (h *locateHandler) phase() State { return Locate }

func (h *locateHandler) handle(msg transport.Message) outcome {
	var pn wpeproto.Node
	if err := pn.Unmarshal(msg.Payload); err != nil {
		h.logger.Warnf("Malformed locate response: %v", err)
		return outcomeIgnored
	}
	scoped := msg.Topic != transport.TopicResponseLocate
	switch {
	case pn.HasNetwork && int64(pn.Network) != h.networkID:
		return outcomeIgnored
	case !pn.HasNetwork && !scoped:
		return outcomeIgnored
	}

	node, err := network.NodeFromProto(&pn)
	if err != nil {
		h.logger.Warnf("Unusable locate response: %v", err)
		return outcomeIgnored
	}
	if node.NetworkID == nil {
		id := h.networkID
		node.NetworkID = &id
	}

	if !h.sm.Accumulate(node) {
		h.logger.Debugf("Ignoring location of node %d received in state %s", node.Addr(), h.sm.State())
		return outcomeIgnored
	}
	h.logger.Debugf("Location of node %d: %.6f, %.6f, %.2f", node.Addr(),
		node.Coordinate.Latitude, node.Coordinate.Longitude, node.Coordinate.Altitude)
	return outcomeAccepted
}

package service

import (
	"fmt"
	"time"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/version"
	"github.com/nxs-stream/nxs-go/pkg/wire"
)

// HandleMessage decodes one request frame and dispatches it. It returns
// nil when the frame cannot be answered because it carries no message id.
func (s *Service) HandleMessage(sess *Session, data []byte) *wire.Response {
	var req wire.Request
	if err := wire.Unmarshal(data, &req); err != nil {
		s.failures.Add(1)
		s.logger.Debug("undecodable request", "session", sess.id, "error", err)
		return nil
	}
	if req.MessageID == wire.NotificationMessageID {
		s.failures.Add(1)
		return nil
	}
	return s.HandleRequest(sess, &req)
}

// HandleRequest runs one request on behalf of sess.
func (s *Service) HandleRequest(sess *Session, req *wire.Request) *wire.Response {
	start := s.clk.Now()
	s.requests.Add(1)
	s.traceMessage(sess, log.MessageTypeRequest, req.MessageID, &req.Operation, nil, req.Payload, nil)

	var (
		payload any
		err     error
	)
	if !req.Operation.IsValid() {
		err = fmt.Errorf("%w: operation %d", wire.ErrUnsupported, req.Operation)
	} else {
		payload, err = s.dispatch(sess, req)
	}

	var resp *wire.Response
	if err == nil {
		resp, err = wire.NewResponse(req.MessageID, payload)
	}
	if err != nil {
		s.failures.Add(1)
		s.logger.Debug("request failed", "session", sess.id, "op", req.Operation, "error", err)
		resp = wire.NewErrorResponse(req.MessageID, err)
	}

	elapsed := s.clk.Now().Sub(start)
	s.traceMessage(sess, log.MessageTypeResponse, resp.MessageID, nil, &resp.Status, resp.Payload, &elapsed)
	return resp
}

func (s *Service) traceMessage(sess *Session, typ log.MessageType, id uint32, op *wire.Operation, status *wire.Status, payload []byte, took *time.Duration) {
	dir := log.DirectionIn
	if typ != log.MessageTypeRequest {
		dir = log.DirectionOut
	}
	s.trace.Log(log.Event{
		Timestamp:  s.clk.Now(),
		SessionID:  sess.id,
		Direction:  dir,
		Layer:      log.LayerWire,
		Category:   log.CategoryMessage,
		RemoteAddr: sess.peer,
		Message: &log.MessageEvent{
			Type:           typ,
			MessageID:      id,
			Operation:      op,
			Status:         status,
			Payload:        payload,
			ProcessingTime: took,
		},
	})
}

func (s *Service) dispatch(sess *Session, req *wire.Request) (any, error) {
	switch req.Operation {
	case wire.OpPing:
		return wire.PingResponsePayload{Version: s.version, Board: s.board, Protocol: version.Protocol}, nil
	case wire.OpRequestFunction:
		return s.requestFunction(sess, req)
	case wire.OpRemoveFunction:
		return nil, s.removeFunction(sess, req)
	case wire.OpConnect:
		return nil, s.lifecycle(sess, req, s.manager.Connect)
	case wire.OpStart:
		return nil, s.lifecycle(sess, req, s.manager.Start)
	case wire.OpStop:
		return nil, s.lifecycle(sess, req, s.manager.Stop)
	case wire.OpDisconnect:
		return nil, s.lifecycle(sess, req, s.manager.Disconnect)
	case wire.OpSetControl:
		return nil, s.setControl(sess, req)
	case wire.OpGetControl:
		return s.getControl(req)
	case wire.OpQuery:
		return s.query(req)
	case wire.OpListFunctions:
		return s.listFunctions(sess), nil
	case wire.OpListNodes:
		return s.listNodes(), nil
	case wire.OpSubscribe:
		return s.subscribe(sess, req)
	case wire.OpUnsubscribe:
		return nil, s.unsubscribe(sess, req)
	}
	return nil, fmt.Errorf("%w: %s", wire.ErrUnsupported, req.Operation)
}

// authorize allows a session to mutate a function it owns. A privileged
// session may also drive the lifecycle of kernel functions, but nobody may
// remove them.
func (s *Service) authorize(sess *Session, f *function.Function, remove bool) error {
	if sess.owns(f.Handle()) {
		return nil
	}
	if !remove && sess.privileged && f.Requester() == nxs.RequesterKernel {
		return nil
	}
	return fmt.Errorf("%w: function %d (%s, %s)", wire.ErrNotAuthorized, f.Handle(), f.Name(), f.Requester())
}

func (s *Service) lookup(req *wire.Request) (*function.Function, error) {
	var p wire.HandlePayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	return s.manager.Function(p.Handle)
}

func (s *Service) requestFunction(sess *Session, req *wire.Request) (any, error) {
	var p wire.RequestFunctionPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: function name required", nxs.ErrInvalidArgument)
	}

	fr := function.Request{
		Elements:      make([]function.Element, 0, len(p.Elements)),
		Flags:         function.Flags(p.Flags),
		SiblingHandle: p.SiblingHandle,
		DisplayID:     p.DisplayID,
		BottomID:      p.BottomID,
	}
	for i, e := range p.Elements {
		kind, err := nxs.ParseKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		fr.Elements = append(fr.Elements, function.Element{
			Kind:           kind,
			Index:          e.Index,
			Requester:      nxs.RequesterUser,
			MultitapFollow: e.Follow,
		})
	}

	handle, err := s.manager.RequestFunction(p.Name, fr, !p.NoBuilder)
	if err != nil {
		return nil, err
	}
	sess.adopt(handle)
	return wire.HandlePayload{Handle: handle}, nil
}

func (s *Service) removeFunction(sess *Session, req *wire.Request) error {
	f, err := s.lookup(req)
	if err != nil {
		return err
	}
	if err := s.authorize(sess, f, true); err != nil {
		return err
	}
	return s.manager.RemoveFunction(f.Handle(), true)
}

func (s *Service) lifecycle(sess *Session, req *wire.Request, op func(handle int) error) error {
	f, err := s.lookup(req)
	if err != nil {
		return err
	}
	if err := s.authorize(sess, f, false); err != nil {
		return err
	}
	return op(f.Handle())
}

func (s *Service) setControl(sess *Session, req *wire.Request) error {
	var p wire.ControlPayload
	if err := req.DecodePayload(&p); err != nil {
		return err
	}
	if err := p.Control.Validate(); err != nil {
		return err
	}
	f, err := s.manager.Function(p.Handle)
	if err != nil {
		return err
	}
	if err := s.authorize(sess, f, false); err != nil {
		return err
	}
	return f.SetControl(p.Position, p.Control.Type, &p.Control)
}

func (s *Service) getControl(req *wire.Request) (any, error) {
	var p wire.ControlPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	f, err := s.manager.Function(p.Handle)
	if err != nil {
		return nil, err
	}
	ctrl := nxs.Control{Type: p.Control.Type}
	if err := f.GetControl(p.Position, ctrl.Type, &ctrl); err != nil {
		return nil, err
	}
	return wire.ControlPayload{Handle: p.Handle, Position: p.Position, Control: ctrl}, nil
}

func (s *Service) query(req *wire.Request) (any, error) {
	var p wire.QueryPayload
	if err := req.DecodePayload(&p); err != nil {
		return nil, err
	}
	entries, err := s.manager.Query(p.Handle, resource.QueryKind(p.Kind))
	if err != nil {
		return nil, err
	}
	return wire.QueryResponsePayload{Entries: entries}, nil
}

func (s *Service) listFunctions(sess *Session) wire.ListFunctionsResponsePayload {
	fns := s.manager.Functions()
	out := wire.ListFunctionsResponsePayload{Functions: make([]wire.FunctionInfo, 0, len(fns))}
	for _, f := range fns {
		info := wire.FunctionInfo{
			Handle:    f.Handle(),
			Name:      f.Name(),
			State:     f.State().String(),
			Requester: f.Requester().String(),
			Owned:     sess.owns(f.Handle()),
		}
		for _, dev := range f.Nodes() {
			info.Nodes = append(info.Nodes, dev.Name())
		}
		if id, ok := f.Display(); ok {
			info.Display = id
		}
		out.Functions = append(out.Functions, info)
	}
	return out
}

func (s *Service) listNodes() wire.ListNodesResponsePayload {
	devs := s.manager.Nodes()
	out := wire.ListNodesResponsePayload{Nodes: make([]wire.NodeInfo, 0, len(devs))}
	for _, dev := range devs {
		st := dev.Snapshot()
		info := wire.NodeInfo{
			Name:         st.Name,
			Refcount:     st.Refcount,
			MaxRefcount:  st.MaxRefcount,
			Followers:    st.Followers,
			OpenCount:    st.OpenCount,
			ConnectCount: st.ConnectCount,
			Started:      st.Started,
			TID1:         st.TID1,
			TID2:         st.TID2,
			InputTID:     st.InputTID,
			IRQ:          st.IRQ,
			IRQCount:     st.IRQCount,
		}
		for _, ct := range dev.Controls() {
			info.Controls = append(info.Controls, ct.String())
		}
		out.Nodes = append(out.Nodes, info)
	}
	return out
}

func (s *Service) subscribe(sess *Session, req *wire.Request) (any, error) {
	f, err := s.lookup(req)
	if err != nil {
		return nil, err
	}
	id := s.nextSub.Add(1)
	frameID := f.OnFrame(func(handle int, frame uint64) {
		sess.notify(&wire.Notification{SubscriptionID: id, Handle: handle, Frame: frame})
	})
	if !sess.addSub(id, subscription{handle: f.Handle(), frameID: frameID}) {
		f.RemoveFrameHandler(frameID)
		return nil, ErrSessionClosed
	}
	return wire.SubscribeResponsePayload{SubscriptionID: id}, nil
}

func (s *Service) unsubscribe(sess *Session, req *wire.Request) error {
	var p wire.UnsubscribePayload
	if err := req.DecodePayload(&p); err != nil {
		return err
	}
	sub, ok := sess.removeSub(p.SubscriptionID)
	if !ok {
		return fmt.Errorf("%w: subscription %d", nxs.ErrNotFound, p.SubscriptionID)
	}
	if f, err := s.manager.Function(sub.handle); err == nil {
		f.RemoveFrameHandler(sub.frameID)
	}
	return nil
}

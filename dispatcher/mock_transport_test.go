package dispatcher

import (
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/btcxmr/swapd/bus"
)

// MockTransport is a hand-authored gomock double for Transport, written
// in the shape mockgen itself produces and used the way
// protocol/xmrmaker/instance_test.go's gomock.Controller-backed mocks are
// used, since no mockgen invocation is available in this environment.
type MockTransport struct {
	ctrl     *gomock.Controller
	recorder *MockTransportRecorder
}

// MockTransportRecorder wraps the controller for EXPECT() call chains.
type MockTransportRecorder struct {
	mock *MockTransport
}

// NewMockTransport returns a MockTransport bound to ctrl.
func NewMockTransport(ctrl *gomock.Controller) *MockTransport {
	m := &MockTransport{ctrl: ctrl}
	m.recorder = &MockTransportRecorder{mock: m}
	return m
}

// EXPECT returns the object that allows the caller to indicate expected calls.
func (m *MockTransport) EXPECT() *MockTransportRecorder {
	return m.recorder
}

// SendMsg mocks base method.
func (m *MockTransport) SendMsg(dest bus.ServiceId, payload interface{}) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendMsg", dest, payload)
	ret0, _ := ret[0].(error)
	return ret0
}

// SendMsg indicates an expected call of SendMsg.
func (mr *MockTransportRecorder) SendMsg(dest, payload interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendMsg", reflect.TypeOf((*MockTransport)(nil).SendMsg), dest, payload)
}

// SendCtl mocks base method.
func (m *MockTransport) SendCtl(dest bus.ServiceId, payload interface{}) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendCtl", dest, payload)
	ret0, _ := ret[0].(error)
	return ret0
}

// SendCtl indicates an expected call of SendCtl.
func (mr *MockTransportRecorder) SendCtl(dest, payload interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendCtl", reflect.TypeOf((*MockTransport)(nil).SendCtl), dest, payload)
}

// SendSync mocks base method.
func (m *MockTransport) SendSync(dest bus.ServiceId, payload interface{}) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "SendSync", dest, payload)
	ret0, _ := ret[0].(error)
	return ret0
}

// SendSync indicates an expected call of SendSync.
func (mr *MockTransportRecorder) SendSync(dest, payload interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SendSync", reflect.TypeOf((*MockTransport)(nil).SendSync), dest, payload)
}

var _ Transport = (*MockTransport)(nil)

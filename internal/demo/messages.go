// Package demo supplies a small, runnable set of business messages, specs,
// and nodes — enough to exercise every layer of pkg/ipc end to end (a
// publish/subscribe loop, an RPC call, a cancel, duplicate-server
// rejection) without pulling in the rendering, input-capture, or
// simulation-math concerns the core module leaves out of scope.
//
// Grounded in original_source/src/ipc/messages.py: same message shapes, a
// position-tracking navigate RPC, and a joystick-driven simulator.
package demo

import (
	"encoding/json"

	"github.com/fenwick-robotics/ipc-core/pkg/ipc"
)

// Debug is a free-form diagnostic payload published on the debug topic.
type Debug struct {
	ipc.Message
	Content string `json:"content"`
}

func (*Debug) ClassName() string { return "demo.Debug" }

// DebugRequest is the debug RPC's request payload. This package registers
// no procedure for the debug RPC.
type DebugRequest struct {
	ipc.RequestBase
	Content string `json:"content"`
}

func (*DebugRequest) ClassName() string { return "demo.DebugRequest" }

// JoystickType names which physical control a JoystickDeflection reports.
type JoystickType string

const (
	JoystickTrackLeft  JoystickType = "track_left"
	JoystickTrackRight JoystickType = "track_right"
	JoystickCabSwing   JoystickType = "cab_swing"
	JoystickStick      JoystickType = "stick"
	JoystickBucket     JoystickType = "bucket"
	JoystickBoom       JoystickType = "boom"
)

// JoystickDeflection is a raw hardware-input sample: one control's
// deflection, nominally in [-1, 1]. The range is not enforced here.
type JoystickDeflection struct {
	ipc.Message
	Joystick   JoystickType `json:"joystick"`
	Deflection float64      `json:"deflection"`
}

func (*JoystickDeflection) ClassName() string { return "demo.JoystickDeflection" }

// Odometry is the simulator's processed position estimate.
type Odometry struct {
	ipc.Message
	Position float64 `json:"position"`
}

func (*Odometry) ClassName() string { return "demo.Odometry" }

// NavigateRequest asks the navigate server to drive to Position, within
// Tolerance.
type NavigateRequest struct {
	ipc.RequestBase
	Position  float64 `json:"position"`
	Tolerance float64 `json:"tolerance"`
}

func (*NavigateRequest) ClassName() string { return "demo.NavigateRequest" }

func decodeInto[T any](data []byte, stamped func(*T) *ipc.Message) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if !ipc.HasTransportFields(data) {
		return nil, ipc.ErrMalformedMessage
	}
	base := stamped(&v)
	base.Stamp(base.SenderID, base.PubDT, base.PubCounter)
	return &v, nil
}

var (
	debugCodec = ipc.RegisterCodec("demo.Debug", func(data []byte) (ipc.MessageClass, error) {
		return decodeInto(data, func(v *Debug) *ipc.Message { return &v.Message })
	})
	debugRequestCodec = ipc.RegisterCodec("demo.DebugRequest", func(data []byte) (ipc.MessageClass, error) {
		return decodeInto(data, func(v *DebugRequest) *ipc.Message { return &v.Message })
	})
	joystickDeflectionCodec = ipc.RegisterCodec("demo.JoystickDeflection", func(data []byte) (ipc.MessageClass, error) {
		return decodeInto(data, func(v *JoystickDeflection) *ipc.Message { return &v.Message })
	})
	odometryCodec = ipc.RegisterCodec("demo.Odometry", func(data []byte) (ipc.MessageClass, error) {
		return decodeInto(data, func(v *Odometry) *ipc.Message { return &v.Message })
	})
	navigateRequestCodec = ipc.RegisterCodec("demo.NavigateRequest", func(data []byte) (ipc.MessageClass, error) {
		return decodeInto(data, func(v *NavigateRequest) *ipc.Message { return &v.Message })
	})
)

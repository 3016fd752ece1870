// Command client is the host-loaded shared library runtime. Guest calls
// arrive through the exported bken* entry points in this file; each reads
// its arguments through the host-provided call context, drives the
// session core, and writes results back into guest memory or the return
// slot. None of these entries may let a panic cross into the host: every
// body runs under withRecover.
package main

/*
#include "hostabi.h"
*/
import "C"

import (
	"context"
	"log/slog"
	"os"
	"unsafe"

	"bken/client/marshal"
	"bken/client/session"
)

// guestMemSize bounds the unsafe.Slice view taken over the host's base
// pointer. It is not a real memory limit, just wide enough that any address
// this runtime is asked to touch falls inside the view; out-of-range
// addresses remain the caller's error per the marshal package's contract.
const guestMemSize = 1 << 32

const (
	maxURLLen       = 256
	maxSessionIDLen = 65
	maxMessageIDLen = 64
)

//export bkenApiVersion
func bkenApiVersion() C.int32_t {
	return 1
}

//export bkenInit
func bkenInit(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenInit", ctx, func() {
		configureLogging()
		session.Get()
		setReturn(ctx, 1)
	})
}

//export bkenConnect
func bkenConnect(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenConnect", ctx, func() {
		url := argString(ctx, 0, maxURLLen)
		err := session.Get().Connect(context.Background(), url)
		if err != nil {
			slog.Error("connect failed", "err", err)
		}
		setReturnBool(ctx, err == nil)
	})
}

//export bkenDisconnect
func bkenDisconnect(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenDisconnect", ctx, func() {
		err := session.Get().Disconnect()
		setReturnBool(ctx, err == nil)
	})
}

//export bkenGetClientId
func bkenGetClientId(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenGetClientId", ctx, func() {
		addr := argU64(ctx, 0)
		maxLen := int(argU32(ctx, 1))

		id := session.Get().ClientID()
		if id == "" {
			setReturn(ctx, 0)
			return
		}
		marshal.WriteString(memView(base), addr, id, maxLen)
		setReturn(ctx, 1)
	})
}

//export bkenJoinSession
func bkenJoinSession(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenJoinSession", ctx, func() {
		id := argString(ctx, 0, maxSessionIDLen)
		err := session.Get().JoinSession(id)
		if err != nil {
			slog.Error("join_session failed", "err", err)
		}
		setReturnBool(ctx, err == nil)
	})
}

//export bkenLeaveSession
func bkenLeaveSession(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenLeaveSession", ctx, func() {
		err := session.Get().LeaveSession()
		if err != nil {
			slog.Debug("leave_session no-op", "err", err)
		}
		setReturnBool(ctx, err == nil)
	})
}

//export bkenEmitActorData
func bkenEmitActorData(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenEmitActorData", ctx, func() {
		addr := argU64(ctx, 0)
		data := marshal.ReadActorData(memView(base), addr)
		err := session.Get().SendActorSync(data)
		setReturnBool(ctx, err == nil)
	})
}

//export bkenGetRemoteActorIDs
func bkenGetRemoteActorIDs(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenGetRemoteActorIDs", ctx, func() {
		maxCount := int(argU32(ctx, 0))
		addr := argU64(ctx, 1)
		stride := argU64(ctx, 2)

		ids := session.Get().RemoteActorIDs()
		n := marshal.WriteStringArray(memView(base), addr, ids, stride, maxCount)
		setReturn(ctx, int32(n))
	})
}

//export bkenGetRemoteActorData
func bkenGetRemoteActorData(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenGetRemoteActorData", ctx, func() {
		id := argString(ctx, 0, maxSessionIDLen)
		addr := argU64(ctx, 1)

		ra, ok := session.Get().RemoteActor(id)
		if !ok {
			setReturn(ctx, 0)
			return
		}
		marshal.WriteActorData(memView(base), addr, ra.Data)
		setReturn(ctx, 1)
	})
}

//export bkenEmitMessage
func bkenEmitMessage(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenEmitMessage", ctx, func() {
		id := argString(ctx, 0, maxMessageIDLen)
		size := int(argU32(ctx, 1))
		addr := argU64(ctx, 2)

		view := memView(base)
		data := make([]byte, size)
		copy(data, view[addr:addr+uint64(size)])

		err := session.Get().SendMessage(id, data)
		setReturnBool(ctx, err == nil)
	})
}

//export bkenGetPendingMessageSize
func bkenGetPendingMessageSize(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenGetPendingMessageSize", ctx, func() {
		setReturn(ctx, int32(session.Get().PendingMessageSize()))
	})
}

//export bkenGetMessage
func bkenGetMessage(base *C.uint8_t, ctx C.bken_call_context) {
	withRecover("bkenGetMessage", ctx, func() {
		bufAddr := argU64(ctx, 0)
		bufLen := int(argU32(ctx, 1))
		idBufAddr := argU64(ctx, 2)

		id, data, ok := session.Get().PopMessage(bufLen)
		if !ok {
			setReturn(ctx, 0)
			return
		}
		view := memView(base)
		copy(view[bufAddr:bufAddr+uint64(len(data))], data)
		marshal.WriteString(view, idBufAddr, id, maxMessageIDLen)
		setReturn(ctx, 1)
	})
}

// withRecover runs fn and catches any panic so it never unwinds past the
// host boundary. On panic it logs the entry name and best-effort writes a 0
// return.
func withRecover(name string, ctx C.bken_call_context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in host entry point", "entry", name, "recovered", r)
			setReturn(ctx, 0)
		}
	}()
	fn()
}

func memView(base *C.uint8_t) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), guestMemSize)
}

func argU32(ctx C.bken_call_context, index int) uint32 {
	return uint32(C.bken_host_get_arg_u32(ctx, C.int(index)))
}

func argU64(ctx C.bken_call_context, index int) uint64 {
	return uint64(C.bken_host_get_arg_u64(ctx, C.int(index)))
}

func argString(ctx C.bken_call_context, index, maxLen int) string {
	buf := make([]byte, maxLen)
	n := C.bken_host_get_arg_string(ctx, C.int(index), (*C.char)(unsafe.Pointer(&buf[0])), C.uint32_t(maxLen))
	return string(buf[:n])
}

func setReturn(ctx C.bken_call_context, value int32) {
	C.bken_host_set_return(ctx, C.int32_t(value))
}

func setReturnBool(ctx C.bken_call_context, ok bool) {
	if ok {
		setReturn(ctx, 1)
		return
	}
	setReturn(ctx, 0)
}

// configureLogging sets the default slog handler's level from
// BKEN_LOG_LEVEL (debug, info, warn, error; default info).
func configureLogging() {
	level := slog.LevelInfo
	switch os.Getenv("BKEN_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {}

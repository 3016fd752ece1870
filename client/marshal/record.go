// Package marshal reads and writes fixed-layout records and strings through a
// base pointer plus a guest address, the same way the host's recompiled code
// sees emulated console memory: a flat byte slice indexed by a zero-extended
// offset.
//
// Every operation here trusts its caller. An out-of-range address is a
// programmer error, not a recoverable condition; callers at the host
// boundary are expected to run under the panic-isolation shim in abi.go.
package marshal

import (
	"encoding/binary"
	"math"
	"strings"
)

// ActorData is the synchronized per-player snapshot. Field order and widths
// are the single source of truth for the on-wire and in-guest-memory layout;
// offsets below are derived from this declaration and must not drift from
// it.
type ActorData struct {
	WorldPosition [3]float32
	ShapeRotation [3]int16
	UpperLimbRot  [3]int16
	JointTable    [24][3]int16
	CurrentBoots  int8
	CurrentShield int8
}

// ActorDataSize is the exact byte length of ActorData's guest-memory image:
// 12 + 6 + 6 + 144 + 1 + 1.
const ActorDataSize = 170

const (
	offWorldPosition = 0
	offShapeRotation = offWorldPosition + 4*3
	offUpperLimbRot  = offShapeRotation + 2*3
	offJointTable    = offUpperLimbRot + 2*3
	offCurrentBoots  = offJointTable + 2*3*24
	offCurrentShield = offCurrentBoots + 1
)

// ReadActorData decodes an ActorData from base[addr:addr+ActorDataSize].
func ReadActorData(base []byte, addr uint64) ActorData {
	b := base[addr : addr+ActorDataSize]
	var a ActorData
	for i := range a.WorldPosition {
		bits := binary.NativeEndian.Uint32(b[offWorldPosition+4*i:])
		a.WorldPosition[i] = math.Float32frombits(bits)
	}
	for i := range a.ShapeRotation {
		a.ShapeRotation[i] = int16(binary.NativeEndian.Uint16(b[offShapeRotation+2*i:]))
	}
	for i := range a.UpperLimbRot {
		a.UpperLimbRot[i] = int16(binary.NativeEndian.Uint16(b[offUpperLimbRot+2*i:]))
	}
	for j := range a.JointTable {
		for i := 0; i < 3; i++ {
			off := offJointTable + j*6 + i*2
			a.JointTable[j][i] = int16(binary.NativeEndian.Uint16(b[off:]))
		}
	}
	a.CurrentBoots = int8(b[offCurrentBoots])
	a.CurrentShield = int8(b[offCurrentShield])
	return a
}

// WriteActorData encodes a into base[addr:addr+ActorDataSize].
func WriteActorData(base []byte, addr uint64, a ActorData) {
	b := base[addr : addr+ActorDataSize]
	for i, v := range a.WorldPosition {
		binary.NativeEndian.PutUint32(b[offWorldPosition+4*i:], math.Float32bits(v))
	}
	for i, v := range a.ShapeRotation {
		binary.NativeEndian.PutUint16(b[offShapeRotation+2*i:], uint16(v))
	}
	for i, v := range a.UpperLimbRot {
		binary.NativeEndian.PutUint16(b[offUpperLimbRot+2*i:], uint16(v))
	}
	for j, joint := range a.JointTable {
		for i, v := range joint {
			off := offJointTable + j*6 + i*2
			binary.NativeEndian.PutUint16(b[off:], uint16(v))
		}
	}
	b[offCurrentBoots] = byte(a.CurrentBoots)
	b[offCurrentShield] = byte(a.CurrentShield)
}

// ReadCString reads UTF-8 bytes from base starting at addr until a NUL byte
// or maxLen is reached, whichever comes first. Invalid UTF-8 is replaced with
// the Unicode replacement character.
func ReadCString(base []byte, addr uint64, maxLen int) string {
	end := int(addr)
	limit := end + maxLen
	if limit > len(base) {
		limit = len(base)
	}
	for end < limit && base[end] != 0 {
		end++
	}
	return strings.ToValidUTF8(string(base[addr:end]), "�")
}

// WriteString writes up to maxBytes-1 bytes of s into base at addr, followed
// by a single NUL terminator. maxBytes == 0 writes nothing.
func WriteString(base []byte, addr uint64, s string, maxBytes int) int {
	if maxBytes <= 0 {
		return 0
	}
	b := []byte(s)
	n := maxBytes - 1
	if n > len(b) {
		n = len(b)
	}
	copy(base[addr:addr+uint64(n)], b[:n])
	base[addr+uint64(n)] = 0
	return n
}

// WriteStringArray writes up to maxCount strings from xs contiguously at
// addr, stride bytes apart, using WriteString for each slot. It returns the
// number of strings actually written; entries beyond maxCount are dropped.
func WriteStringArray(base []byte, addr uint64, xs []string, stride uint64, maxCount int) int {
	n := len(xs)
	if n > maxCount {
		n = maxCount
	}
	for i := 0; i < n; i++ {
		WriteString(base, addr+uint64(i)*stride, xs[i], int(stride))
	}
	return n
}

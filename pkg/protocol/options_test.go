package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionKeyNames(t *testing.T) {
	assert.True(t, OptionHeartbeat.Known())
	assert.Equal(t, "HART", OptionHeartbeat.Name())
	assert.Equal(t, "HART", OptionHeartbeat.String())

	// Keys are the big-endian packing of their four name bytes.
	assert.Equal(t, OptionHeartbeat, OptionKey(binary.BigEndian.Uint32([]byte("HART"))))
	assert.Equal(t, OptionScreenSwitchDelay, OptionKey(binary.BigEndian.Uint32([]byte("SSWT"))))
	assert.Equal(t, "_KFW", OptionWin32KeepForeground.Name())

	unknown := OptionKey(0xDEADBEEF)
	assert.False(t, unknown.Known())
	assert.Equal(t, "OptionKey(0xdeadbeef)", unknown.String())
}

func TestOptionKeyKnownCoversDeclaredKeys(t *testing.T) {
	keys := []OptionKey{
		OptionHalfDuplexCapsLock, OptionHalfDuplexNumLock, OptionHalfDuplexScrollLock,
		OptionModifierMapForShift, OptionModifierMapForControl, OptionModifierMapForAlt,
		OptionModifierMapForAltGr, OptionModifierMapForMeta, OptionModifierMapForSuper,
		OptionScreenSwitchCorners, OptionScreenSwitchCornerSize, OptionScreenSwitchDelay,
		OptionScreenSwitchTwoTap, OptionScreenSwitchNeedsShift, OptionScreenSwitchNeedsControl,
		OptionScreenSwitchNeedsAlt, OptionHeartbeat, OptionProtocol,
		OptionRelativeMouseMoves, OptionDefaultLockToScreenState, OptionDisableLockToScreen,
		OptionClipboardSharing, OptionClipboardSharingSize, OptionXTestXineramaUnaware,
		OptionScreenPreserveFocus, OptionWin32KeepForeground,
	}
	for _, k := range keys {
		assert.True(t, k.Known(), "key %s", k.Name())
		assert.Equal(t, k.Name(), k.String())
	}
}

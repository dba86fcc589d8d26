package protocol

import "fmt"

// OptionKey identifies a well-known SetOptions key. Keys are four ASCII
// characters packed big-endian into a u32; unknown keys travel through the
// codec untouched.
type OptionKey uint32

// Keyboard handling options
const (
	OptionHalfDuplexCapsLock    OptionKey = 0x4844434C // HDCL
	OptionHalfDuplexNumLock     OptionKey = 0x48444E4C // HDNL
	OptionHalfDuplexScrollLock  OptionKey = 0x4844534C // HDSL
	OptionModifierMapForShift   OptionKey = 0x4D4D4653 // MMFS
	OptionModifierMapForControl OptionKey = 0x4D4D4643 // MMFC
	OptionModifierMapForAlt     OptionKey = 0x4D4D4641 // MMFA
	OptionModifierMapForAltGr   OptionKey = 0x4D4D4647 // MMFG
	OptionModifierMapForMeta    OptionKey = 0x4D4D464D // MMFM
	OptionModifierMapForSuper   OptionKey = 0x4D4D4652 // MMFR
)

// Screen switching options
const (
	OptionScreenSwitchCorners      OptionKey = 0x5353434D // SSCM
	OptionScreenSwitchCornerSize   OptionKey = 0x53534353 // SSCS
	OptionScreenSwitchDelay        OptionKey = 0x53535754 // SSWT
	OptionScreenSwitchTwoTap       OptionKey = 0x53535454 // SSTT
	OptionScreenSwitchNeedsShift   OptionKey = 0x53534E53 // SSNS
	OptionScreenSwitchNeedsControl OptionKey = 0x53534E43 // SSNC
	OptionScreenSwitchNeedsAlt     OptionKey = 0x53534E41 // SSNA
)

// General options
const (
	OptionHeartbeat                OptionKey = 0x48415254 // HART
	OptionProtocol                 OptionKey = 0x50524F54 // PROT
	OptionRelativeMouseMoves       OptionKey = 0x4D444C54 // MDLT
	OptionDefaultLockToScreenState OptionKey = 0x4C545353 // LTSS
	OptionDisableLockToScreen      OptionKey = 0x444C5453 // DLTS
	OptionClipboardSharing         OptionKey = 0x434C5053 // CLPS
	OptionClipboardSharingSize     OptionKey = 0x434C535A // CLSZ
	OptionXTestXineramaUnaware     OptionKey = 0x58545855 // XTXU
	OptionScreenPreserveFocus      OptionKey = 0x53464F43 // SFOC
	OptionWin32KeepForeground      OptionKey = 0x5F4B4657 // _KFW
)

// Known reports whether the key is one this library understands.
func (k OptionKey) Known() bool {
	switch k {
	case OptionHalfDuplexCapsLock, OptionHalfDuplexNumLock, OptionHalfDuplexScrollLock,
		OptionModifierMapForShift, OptionModifierMapForControl, OptionModifierMapForAlt,
		OptionModifierMapForAltGr, OptionModifierMapForMeta, OptionModifierMapForSuper,
		OptionScreenSwitchCorners, OptionScreenSwitchCornerSize, OptionScreenSwitchDelay,
		OptionScreenSwitchTwoTap, OptionScreenSwitchNeedsShift, OptionScreenSwitchNeedsControl,
		OptionScreenSwitchNeedsAlt, OptionHeartbeat, OptionProtocol,
		OptionRelativeMouseMoves, OptionDefaultLockToScreenState, OptionDisableLockToScreen,
		OptionClipboardSharing, OptionClipboardSharingSize, OptionXTestXineramaUnaware,
		OptionScreenPreserveFocus, OptionWin32KeepForeground:
		return true
	}
	return false
}

// Name returns the four-character ASCII form of the key, e.g. "HART".
func (k OptionKey) Name() string {
	return string([]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
}

func (k OptionKey) String() string {
	if k.Known() {
		return k.Name()
	}
	return fmt.Sprintf("OptionKey(%#08x)", uint32(k))
}

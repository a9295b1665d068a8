package registry

import "math"

// Semantic unit <-> MIDI value conversions (§4.4). The wire domain is always
// integer 0-127; these helpers map the edges to the semantic ranges a UI or
// coordinator deals in.

const (
	bpmMin = 40.0
	bpmMax = 240.0
)

// BPMToMIDI maps the 40-240 BPM range onto 0-127, clamping out-of-range
// input to the nearest edge.
func BPMToMIDI(bpm float64) uint8 {
	if bpm < bpmMin {
		bpm = bpmMin
	}
	if bpm > bpmMax {
		bpm = bpmMax
	}
	return uint8(math.Round((bpm - bpmMin) * 127 / (bpmMax - bpmMin)))
}

// MIDIToBPM is the inverse of BPMToMIDI.
func MIDIToBPM(v uint8) float64 {
	return bpmMin + float64(v)*(bpmMax-bpmMin)/127
}

// VolumePercentToMIDI maps 0-100% onto 0-127.
func VolumePercentToMIDI(pct float64) uint8 {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return uint8(math.Round(pct * 127 / 100))
}

// MIDIToVolumePercent is the inverse of VolumePercentToMIDI.
func MIDIToVolumePercent(v uint8) float64 {
	return float64(v) * 100 / 127
}

// PanToMIDI maps -50..+50 onto 0..127 with 64 as the centre detent, so
// PanToMIDI(0) == 64 exactly (§8 round-trip law).
func PanToMIDI(pan float64) uint8 {
	if pan < -50 {
		pan = -50
	}
	if pan > 50 {
		pan = 50
	}
	if pan >= 0 {
		return uint8(math.Round(64 + pan*63/50))
	}
	return uint8(math.Round(64 + pan*64/50))
}

// MIDIToPan is the inverse of PanToMIDI.
func MIDIToPan(v uint8) float64 {
	if v >= 64 {
		return float64(int(v)-64) * 50 / 63
	}
	return float64(int(v)-64) * 50 / 64
}

// MuteToMIDI maps the mute boolean onto the wire {0, 127}, per §8.
func MuteToMIDI(on bool) uint8 {
	if on {
		return 127
	}
	return 0
}

// MIDIToMute is the inverse of MuteToMIDI, thresholded at 64 per §8.
func MIDIToMute(v uint8) bool {
	return v >= 64
}

// Clamp127 clamps an integer to the wire value domain [0, 127].
func Clamp127(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return uint8(v)
}

package liveness

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Instruction is the stable key of a user facing guidance message. The key is
// also the English text.
type Instruction string

const (
	InstructionNone           Instruction = ""
	InstructionPositionFace   Instruction = "Position your face inside the frame"
	InstructionCenterFace     Instruction = "Center your face in the frame"
	InstructionStraightenHead Instruction = "Hold your head upright"
	InstructionMoveCloser     Instruction = "Move closer to the camera"
	InstructionMoveAway       Instruction = "Move further away from the camera"
	InstructionHoldPosition   Instruction = "Good, hold this position"
	InstructionCapturing      Instruction = "Hold still"
	InstructionCalibrating    Instruction = "Hold still while we calibrate (%d)"
	InstructionLookStraight   Instruction = "Look straight ahead"
	InstructionKeepHeadLevel  Instruction = "Keep your head level"
	InstructionDontTilt       Instruction = "Don't tilt your head"
	InstructionRotateHead     Instruction = "Slowly move your head in a circle (%d of %d)"
	InstructionBlink          Instruction = "Now blink your eyes"
	InstructionFaceCamera     Instruction = "Look straight at the camera to finish"
	InstructionNoFace         Instruction = "No face detected"
	InstructionCompleted      Instruction = "Verification complete"
)

var dutch = map[Instruction]string{
	InstructionPositionFace:   "Plaats je gezicht binnen het kader",
	InstructionCenterFace:     "Plaats je gezicht in het midden van het kader",
	InstructionStraightenHead: "Houd je hoofd rechtop",
	InstructionMoveCloser:     "Kom dichter bij de camera",
	InstructionMoveAway:       "Ga verder van de camera af",
	InstructionHoldPosition:   "Goed zo, blijf zo zitten",
	InstructionCapturing:      "Blijf stil",
	InstructionCalibrating:    "Blijf stil, we kalibreren (%d)",
	InstructionLookStraight:   "Kijk recht vooruit",
	InstructionKeepHeadLevel:  "Houd je hoofd recht",
	InstructionDontTilt:       "Kantel je hoofd niet",
	InstructionRotateHead:     "Beweeg je hoofd langzaam in een cirkel (%d van %d)",
	InstructionBlink:          "Knipper nu met je ogen",
	InstructionFaceCamera:     "Kijk recht in de camera om af te ronden",
	InstructionNoFace:         "Geen gezicht gevonden",
	InstructionCompleted:      "Verificatie voltooid",
}

var supportedLanguages = []language.Tag{language.English, language.Dutch}

func parseLanguage(s string) (language.Tag, error) {
	if strings.TrimSpace(s) == "" {
		return language.English, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, fmt.Errorf("unknown language %q: %w", s, err)
	}
	base, _ := tag.Base()
	for _, supported := range supportedLanguages {
		if b, _ := supported.Base(); b == base {
			return supported, nil
		}
	}
	return language.Und, fmt.Errorf("unsupported language %q", s)
}

// Localizer renders instructions in one language.
type Localizer struct {
	printer *message.Printer
}

func NewLocalizer(lang string) (*Localizer, error) {
	tag, err := parseLanguage(lang)
	if err != nil {
		return nil, err
	}

	builder := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, text := range dutch {
		if err := builder.SetString(language.Dutch, string(key), text); err != nil {
			return nil, fmt.Errorf("failed to register translation for %q: %w", key, err)
		}
	}

	return &Localizer{printer: message.NewPrinter(tag, message.Catalog(builder))}, nil
}

func (l *Localizer) Text(key Instruction, args ...any) string {
	if key == InstructionNone {
		return ""
	}
	return l.printer.Sprintf(string(key), args...)
}

package classifier

import "strings"

// VoiceParams are the speech synthesis settings a TTS collaborator should use
// to render a reply in the detected emotion.
type VoiceParams struct {
	Style        string  `json:"style"`
	Pitch        float64 `json:"pitch"`
	SpeakingRate float64 `json:"speaking_rate"`
	Description  string  `json:"description"`
	VoiceName    string  `json:"voice_name,omitempty"`
}

var neutralVoice = VoiceParams{Style: "neutral", Pitch: 0, SpeakingRate: 1.0, Description: "Natural and balanced"}

var voiceByEmotion = map[Emotion]VoiceParams{
	Happy:     {Style: "happy", Pitch: 20, SpeakingRate: 1.1, Description: "Cheerful and upbeat"},
	Sad:       {Style: "sad", Pitch: -10, SpeakingRate: 0.8, Description: "Slow and melancholic"},
	Angry:     {Style: "angry", Pitch: 15, SpeakingRate: 1.2, Description: "Intense and fast"},
	Surprised: {Style: "surprised", Pitch: 25, SpeakingRate: 1.3, Description: "High-pitched and quick"},
	Tired:     {Style: "tired", Pitch: -15, SpeakingRate: 0.7, Description: "Slow and low"},
	Excited:   {Style: "excited", Pitch: 30, SpeakingRate: 1.3, Description: "Very high and fast"},
}

var voiceNames = map[string]string{
	"ar-tn": "ar-TN-Standard-D",
	"ar":    "ar-XA-Standard-C",
	"en":    "en-US-Standard-C",
	"fr":    "fr-FR-Standard-C",
}

// VoiceFor returns synthesis settings for e. Emotions without a dedicated
// voice use the neutral one. language selects the voice name; unknown
// languages get the Tunisian Arabic voice.
func VoiceFor(e Emotion, language string) VoiceParams {
	v, ok := voiceByEmotion[e]
	if !ok {
		v = neutralVoice
	}
	lang := strings.ToLower(strings.TrimSpace(language))
	name, ok := voiceNames[lang]
	if !ok {
		name = voiceNames["ar-tn"]
	}
	v.VoiceName = name
	return v
}

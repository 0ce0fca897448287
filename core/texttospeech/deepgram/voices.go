package deepgram

type deepgramVoice string

const (
	VoiceAuraThalia    deepgramVoice = "aura-2-thalia-en"
	VoiceAuraAndromeda deepgramVoice = "aura-2-andromeda-en"
	VoiceAuraHelena    deepgramVoice = "aura-2-helena-en"
	VoiceAuraApollo    deepgramVoice = "aura-2-apollo-en"
	VoiceAuraArcas     deepgramVoice = "aura-2-arcas-en"
	VoiceAuraAries     deepgramVoice = "aura-2-aries-en"
	VoiceAuraAsteria   deepgramVoice = "aura-asteria-en"
	VoiceAuraOrion     deepgramVoice = "aura-orion-en"

	defaultVoice = VoiceAuraThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{
		VoiceAuraThalia,
		VoiceAuraAndromeda,
		VoiceAuraHelena,
		VoiceAuraApollo,
		VoiceAuraArcas,
		VoiceAuraAries,
		VoiceAuraAsteria,
		VoiceAuraOrion,
	}
}

// ParseVoice returns the voice named name, if it is available.
func ParseVoice(name string) (deepgramVoice, bool) {
	for _, voice := range GetAvailableVoices() {
		if string(voice) == name {
			return voice, true
		}
	}
	return "", false
}

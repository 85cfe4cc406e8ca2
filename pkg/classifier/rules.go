package classifier

// DefaultEmotionRules covers Tunisian Arabic (Arabic script and Latin
// "Arabizi"), French and English. Keywords are matched as lower-case
// substrings; patterns run against the lower-cased utterance.
func DefaultEmotionRules() map[Emotion]EmotionRule {
	return map[Emotion]EmotionRule{
		Happy: {
			Keywords: []string{"فرحان", "مزيان", "برشا مرتاح", "نضحك", "happy", "glad", "content", "heureux", "heureuse", "farhan", "mezyen"},
			Patterns: []string{`\b(ha){2,}\b`, `:\)|😀|😊|😄`},
		},
		Sad: {
			Keywords: []string{"حزين", "مقلق", "نبكي", "وحدي", "sad", "unhappy", "lonely", "triste", "déprimé", "7zin", "ma9lou9"},
			Patterns: []string{`:\(|😢|😭`, `\bi (feel|am) (down|low)\b`},
		},
		Angry: {
			Keywords: []string{"معصب", "زعفان", "غاضب", "angry", "furious", "annoyed", "fâché", "énervé", "en colère", "m3asseb"},
			Patterns: []string{`\b(wtf|damn)\b`, `😡|🤬`, `!{3,}`},
		},
		Surprised: {
			Keywords: []string{"مفاجأة", "ما صدقتش", "surprised", "no way", "surpris", "incroyable", "wow"},
			Patterns: []string{`\b(w+o+w+|omg)\b`, `😮|😲`, `\?!|!\?`},
		},
		Confused: {
			Keywords: []string{"ما فهمتش", "مش فاهم", "confused", "i don't understand", "je comprends pas", "perdu", "ma fhemtech"},
			Patterns: []string{`\?{2,}`, `🤔|😕`, `\bwhat do you mean\b`},
		},
		Excited: {
			Keywords: []string{"متحمس", "ما نجمش نستنى", "excited", "can't wait", "thrilled", "hâte", "impatient", "m7ames"},
			Patterns: []string{`🎉|🤩`, `\byay+\b`},
		},
		Loving: {
			Keywords: []string{"نحبك", "يا روحي", "حبيبي", "love you", "adore", "je t'aime", "t'aime", "n7ebek"},
			Patterns: []string{`❤|😍|🥰`, `\bi love\b`},
		},
		Tired: {
			Keywords: []string{"تعبان", "فدّيت", "نعسان", "tired", "exhausted", "sleepy", "fatigué", "crevé", "ta3ban", "na3san"},
			Patterns: []string{`😴|🥱`, `\bso+ tired\b`},
		},
		Proud: {
			Keywords: []string{"فخور", "نجحت", "ربحت", "proud", "i did it", "fier", "fière", "j'ai réussi", "fakhour"},
			Patterns: []string{`💪|🏆`, `\b(passed|won) (my|the)\b`},
		},
		Nervous: {
			Keywords: []string{"خايف", "متوتر", "قلقان", "nervous", "anxious", "worried", "stress", "inquiet", "5ayef"},
			Patterns: []string{`😰|😬`, `\bwhat if\b`},
		},
		Interested: {
			Keywords: []string{"احكيلي", "نحب نعرف", "tell me", "curious", "interesting", "intéressant", "raconte", "a7kili"},
			Patterns: []string{`\bhow does\b`, `\bexplain\b`},
		},
		Grateful: {
			Keywords: []string{"شكرا", "يعيشك", "متشكر", "thank", "grateful", "merci", "reconnaissant", "ya3ychek", "chokran"},
			Patterns: []string{`🙏`, `\bthx\b`},
		},
	}
}

// DefaultIntentRules maps each non-fallback intent to its keywords.
func DefaultIntentRules() map[Intent][]string {
	return map[Intent][]string{
		IntentGreeting:    {"عسلامة", "اهلا", "مرحبا", "صباح الخير", "hello", "hey", "bonjour", "salut", "salam", "aslema", "ahla"},
		IntentHelp:        {"عاوني", "مساعدة", "help", "aide", "aidez", "assist", "3aweni", "support"},
		IntentTransport:   {"تاكسي", "مترو", "لواج", "كار", "bus", "metro", "train", "taxi", "louage", "station", "transport"},
		IntentInformation: {"شنوة", "وين", "وقتاش", "كيفاش", "what", "where", "when", "how", "info", "quoi", "où", "comment", "chnowa", "winou"},
		IntentBooking:     {"حجز", "نحجز", "book", "reserv", "réserv", "ticket", "billet", "rendez-vous"},
		IntentGratitude:   {"شكرا", "يعيشك", "thank", "merci", "ya3ychek"},
		IntentComplaint:   {"مشكلة", "خايب", "problem", "broken", "terrible", "problème", "nul", "complain", "plainte", "mochkla"},
	}
}

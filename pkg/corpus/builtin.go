package corpus

// Built-in sets used when the remote corpus cannot be loaded.

func builtinDialogues() []DialogueExample {
	return []DialogueExample{
		{Text: "عسلامة، لاباس عليك؟", Speaker: "user", Intent: "greeting", Split: "builtin"},
		{Text: "وين نلقى محطة المترو الأقرب؟", Speaker: "user", Intent: "transport", Entities: map[string]string{"place": "محطة المترو"}, Split: "builtin"},
		{Text: "قداش يعمل التاكسي لتونس العاصمة؟", Speaker: "user", Intent: "transport", Entities: map[string]string{"destination": "تونس العاصمة"}, Split: "builtin"},
		{Text: "نحب نحجز طاولة لزوز الليلة", Speaker: "user", Intent: "booking", Entities: map[string]string{"party_size": "2", "time": "الليلة"}, Split: "builtin"},
		{Text: "عاوني نلقى صيدلية محلولة", Speaker: "user", Intent: "help", Entities: map[string]string{"place": "صيدلية"}, Split: "builtin"},
		{Text: "شنوة الطقس غدوة؟", Speaker: "user", Intent: "information", Split: "builtin"},
		{Text: "يعيشك برشا على المعاونة", Speaker: "user", Intent: "gratitude", Split: "builtin"},
		{Text: "الكار تأخر ساعة، هذا موش معقول", Speaker: "user", Intent: "complaint", Split: "builtin"},
	}
}

func builtinProverbs() []Proverb {
	return []Proverb{
		{Text: "اللي صبر ظفر", Theme: "patience", Split: "builtin"},
		{Text: "الصبر مفتاح الفرج", Theme: "patience", Split: "builtin", ImageRef: "proverbs/patience_key.png"},
		{Text: "الصاحب وقت الضيق", Theme: "friendship", Split: "builtin"},
		{Text: "اليد وحدها ما تصفقش", Theme: "cooperation", Split: "builtin", ImageRef: "proverbs/clapping_hands.png"},
		{Text: "اللي فات مات", Theme: "acceptance", Split: "builtin"},
		{Text: "كل تأخيرة فيها خيرة", Theme: "hope", Split: "builtin"},
		{Text: "الضحكة تطول العمر", Theme: "joy", Split: "builtin"},
		{Text: "اللي يحب الشهدة يصبر لقرص النحل", Theme: "effort", Split: "builtin"},
	}
}

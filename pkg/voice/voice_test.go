package voice

import "testing"

func TestContrast(t *testing.T) {
	if got := Contrast(Low); got != Female {
		t.Errorf("Contrast(Low) = %s, want female", got)
	}
	if got := Contrast(High); got != Male {
		t.Errorf("Contrast(High) = %s, want male", got)
	}
	if got := Contrast(""); got != Female {
		t.Errorf("Contrast(\"\") = %s, want female", got)
	}
}

func TestParse(t *testing.T) {
	if c, err := ParseCategory("coaching"); err != nil || c != Coaching {
		t.Errorf("ParseCategory = %q, %v", c, err)
	}
	if _, err := ParseCategory("summary"); err == nil {
		t.Error("expected error for unknown category")
	}
	if p, err := ParseProfile("high"); err != nil || p != High {
		t.Errorf("ParseProfile = %q, %v", p, err)
	}
	if _, err := ParseProfile("tenor"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestTableSelect(t *testing.T) {
	langs := map[Category]string{Coaching: "en", Conversational: "es"}

	tests := []struct {
		backend  string
		category Category
		profile  Profile
		want     Selection
	}{
		{"google", Coaching, Low, Selection{"en", Female, "en-US-Neural2-F"}},
		{"google", Conversational, High, Selection{"es", Male, "es-ES-Neural2-B"}},
		{"openai", Conversational, Low, Selection{"es", Female, "nova"}},
		{"espeak", Conversational, High, Selection{"es", Male, "es+m3"}},
		{"coqui", Coaching, High, Selection{"en", Male, ""}},
		{"unknown", Coaching, Low, Selection{"en", Female, ""}},
	}

	for _, tt := range tests {
		t.Run(tt.backend+"/"+string(tt.category)+"/"+string(tt.profile), func(t *testing.T) {
			got := NewTable(tt.backend, langs).Select(tt.category, tt.profile)
			if got != tt.want {
				t.Errorf("Select = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTableFallbacks(t *testing.T) {
	// Missing category language falls back to English.
	tbl := NewTable("google", nil)
	if got := tbl.Select(Conversational, High); got.Language != "en" || got.Voice != "en-US-Neural2-D" {
		t.Errorf("got %+v", got)
	}

	// A language without presets uses the English voices.
	tbl = NewTable("google", map[Category]string{Coaching: "ja"})
	if got := tbl.Select(Coaching, Low); got.Language != "ja" || got.Voice != "en-US-Neural2-F" {
		t.Errorf("got %+v", got)
	}
}

func TestTableRegionalTags(t *testing.T) {
	tests := []struct {
		backend, lang string
		profile       Profile
		want          Selection
	}{
		{"google", "es-ES", Low, Selection{"es-ES", Female, "es-ES-Neural2-A"}},
		{"google", "fr_FR", High, Selection{"fr_FR", Male, "fr-FR-Neural2-B"}},
		{"google", "PT-br", Low, Selection{"PT-br", Female, "pt-BR-Neural2-A"}},
		{"espeak", "de-AT", High, Selection{"de-AT", Male, "de+m3"}},
		{"google", "ja-JP", Low, Selection{"ja-JP", Female, "en-US-Neural2-F"}},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.lang, func(t *testing.T) {
			got := NewTable(tt.backend, map[Category]string{Conversational: tt.lang}).Select(Conversational, tt.profile)
			if got != tt.want {
				t.Errorf("Select = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSelectIsPure(t *testing.T) {
	tbl := NewTable("elevenlabs", map[Category]string{Coaching: "en"})
	first := tbl.Select(Coaching, High)
	for i := 0; i < 10; i++ {
		if got := tbl.Select(Coaching, High); got != first {
			t.Fatalf("call %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestPolicyFunc(t *testing.T) {
	var p Policy = PolicyFunc(func(c Category, pr Profile) Selection {
		return Selection{Language: "fr", Gender: Contrast(pr), Voice: "custom"}
	})
	if got := p.Select(Coaching, Low); got.Voice != "custom" || got.Gender != Female {
		t.Errorf("got %+v", got)
	}
}

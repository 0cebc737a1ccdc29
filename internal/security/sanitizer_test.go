package security

import "testing"

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "ゼロ幅スペースを除去", input: "Half-Life\u200B 2", want: "Half-Life 2"},
		{name: "通常文字列はそのまま", input: "Portal 2", want: "Portal 2"},
		{name: "前後の空白を除去", input: "  Celeste \n", want: "Celeste"},
		{name: "BOMを除去", input: "\uFEFFHades", want: "Hades"},
		{name: "ワードジョイナーを除去", input: "Dead\u2060Cells", want: "DeadCells"},
		{name: "双方向制御マークを除去", input: "Outer\u200E Wilds\u200F", want: "Outer Wilds"},
		{name: "C0制御文字を除去", input: "Hollow\x00 Knight\x07", want: "Hollow Knight"},
		{name: "C1制御文字を除去", input: "Stardew\u0085 Valley", want: "Stardew Valley"},
		{name: "置換文字を除去", input: "Disco\uFFFD Elysium", want: "Disco Elysium"},
		{name: "不正なUTF-8バイトを除去", input: "Tunic\xff\xfe", want: "Tunic"},
		{name: "日本語は保持", input: "大神\u200B 絶景版", want: "大神 絶景版"},
		{name: "絵文字は保持", input: "Cult of the Lamb \U0001F411", want: "Cult of the Lamb \U0001F411"},
		{name: "右から左への上書きを除去", input: "\u202EHalf-Life", want: "Half-Life"},
		{name: "双方向アイソレートを除去", input: "Half\u2066Life\u2069", want: "HalfLife"},
		{name: "ソフトハイフンを除去", input: "Half\u00ADLife", want: "HalfLife"},
		{name: "アラビア文字マークを除去", input: "Ori\u061C", want: "Ori"},
		{name: "モンゴル語母音区切りを除去", input: "In\u180Eside", want: "Inside"},
		{name: "タグ文字を除去", input: "Limbo\U000E0001\U000E0041", want: "Limbo"},
		{name: "不可視文字のみは空文字列", input: "\u200B\u200C\uFEFF", want: ""},
		{name: "空文字列", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeText(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_Idempotent は2回適用しても結果が変わらないことを検証する。
func TestSanitizeText_Idempotent(t *testing.T) {
	inputs := []string{
		"Half-Life\u200B 2",
		" \u200B Half-Life 2 \u200B ",
		"\uFEFF\x01Tunic\xff",
		"A\u2061\u2062\u2063\u2064B",
		"\t\n",
		"Baldur's Gate 3",
		" \u202E\u00AD Half-Life \u2069 ",
	}

	for _, in := range inputs {
		once := SanitizeText(in)
		twice := SanitizeText(once)
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestSanitizeOptional(t *testing.T) {
	if got := SanitizeOptional(nil); got != nil {
		t.Errorf("expected nil, got %q", *got)
	}

	blank := "\u200B "
	if got := SanitizeOptional(&blank); got != nil {
		t.Errorf("expected nil for blank input, got %q", *got)
	}

	v := " Valve\u200B "
	got := SanitizeOptional(&v)
	if got == nil || *got != "Valve" {
		t.Errorf("expected Valve, got %v", got)
	}
}

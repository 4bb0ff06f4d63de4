package emotion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClassifyTagWins(t *testing.T) {
	tests := []struct {
		in   string
		want Label
	}{
		{in: "[excited] マジでびっくりしたっす！", want: Excited},
		{in: "[happy] 悲しい...😢", want: Happy},
		{in: "[Sad] yay!!!", want: Sad},
		{in: "well [thinking] let me see", want: Thinking},
		{in: "[bogus] [angry] 許さない", want: Angry},
	}
	for _, tt := range tests {
		got := Classify(tt.in)
		if got.Label != tt.want {
			t.Fatalf("Classify(%q) label=%s, want %s", tt.in, got.Label, tt.want)
		}
		if got.Intensity != 1.0 {
			t.Fatalf("Classify(%q) intensity=%v, want 1.0", tt.in, got.Intensity)
		}
		if got.Source != SourceTag {
			t.Fatalf("Classify(%q) source=%s, want %s", tt.in, got.Source, SourceTag)
		}
	}
}

func TestClassifyRawTextStripsTags(t *testing.T) {
	got := Classify("[happy] 今日はいい天気っすね！")
	if got.RawText != "今日はいい天気っすね！" {
		t.Fatalf("raw_text=%q, want %q", got.RawText, "今日はいい天気っすね！")
	}
	got = Classify("[invalid] テスト")
	if got.RawText != "テスト" {
		t.Fatalf("raw_text=%q, want %q", got.RawText, "テスト")
	}
	if got.Source != SourceRule {
		t.Fatalf("source=%s, want %s", got.Source, SourceRule)
	}
}

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want Label
	}{
		{in: "マジっすか！やばいっすね！！", want: Excited},
		{in: "なんだか寂しいっす...", want: Sad},
		{in: "えっ、びっくりした", want: Surprised},
		{in: "ムカつく💢", want: Angry},
		{in: "うーん、どうしようかな？🤔", want: Thinking},
		{in: "今日は水曜日っす", want: Neutral},
		{in: "面白いww", want: Happy},
	}
	for _, tt := range tests {
		got := Classify(tt.in)
		if got.Label != tt.want {
			t.Fatalf("Classify(%q) label=%s, want %s", tt.in, got.Label, tt.want)
		}
		if got.Source != SourceRule {
			t.Fatalf("Classify(%q) source=%s, want %s", tt.in, got.Source, SourceRule)
		}
	}
}

func TestClassifyTieIsNeutral(t *testing.T) {
	got := Classify("すごい😢")
	if got.Label != Neutral {
		t.Fatalf("label=%s, want %s", got.Label, Neutral)
	}
}

func TestClassifyEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		got := Classify(in)
		want := Result{Label: Neutral, Intensity: 0, Source: SourceRule}
		if got != want {
			t.Fatalf("Classify(%q)=%+v, want %+v", in, got, want)
		}
	}
}

func TestClassifyIntensityCapped(t *testing.T) {
	got := Classify("すごい！やばい！！マジ🔥✨")
	if got.Label != Excited {
		t.Fatalf("label=%s, want %s", got.Label, Excited)
	}
	if got.Intensity != 1.0 {
		t.Fatalf("intensity=%v, want 1.0", got.Intensity)
	}
}

func TestClassifySecondary(t *testing.T) {
	got := Classify("なんだか寂しいっす...ね！")
	if got.Label != Sad {
		t.Fatalf("label=%s, want %s", got.Label, Sad)
	}
	if got.Secondary != Happy {
		t.Fatalf("secondary=%s, want %s", got.Secondary, Happy)
	}
}

type fakeModel struct {
	result Result
	err    error
	calls  int
}

func (f *fakeModel) Analyze(_ context.Context, _ string) (Result, error) {
	f.calls++
	return f.result, f.err
}

func TestClassifierUsesModelBelowThreshold(t *testing.T) {
	model := &fakeModel{result: Result{Label: Thinking, Intensity: 0.6}}
	c := NewClassifier(model, 0.5, nil)

	final, rule := c.Classify(context.Background(), "今日は水曜日っす")
	if model.calls != 1 {
		t.Fatalf("model calls=%d, want 1", model.calls)
	}
	if final.Source != SourceModel || final.Label != Thinking {
		t.Fatalf("final=%+v, want thinking from model", final)
	}
	if rule.Source != SourceRule || rule.Label != Neutral {
		t.Fatalf("rule=%+v, want neutral from rule", rule)
	}
}

func TestClassifierSkipsModelForTagsAndStrongRules(t *testing.T) {
	model := &fakeModel{result: Result{Label: Sad, Intensity: 1}}
	c := NewClassifier(model, 0.5, nil)

	final, _ := c.Classify(context.Background(), "[happy] hi")
	if final.Source != SourceTag {
		t.Fatalf("source=%s, want %s", final.Source, SourceTag)
	}
	final, _ = c.Classify(context.Background(), "マジっすか！やばいっすね！！")
	if final.Source != SourceRule {
		t.Fatalf("source=%s, want %s", final.Source, SourceRule)
	}
	if model.calls != 0 {
		t.Fatalf("model calls=%d, want 0", model.calls)
	}
}

func TestClassifierKeepsRuleOnModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("boom")}
	c := NewClassifier(model, 0.5, nil)

	final, rule := c.Classify(context.Background(), "今日は水曜日っす")
	if final != rule {
		t.Fatalf("final=%+v, want rule %+v", final, rule)
	}
}

func TestParseModelAnswer(t *testing.T) {
	got, err := parseModelAnswer("```json\n{\"label\": \"Surprised\", \"intensity\": 1.4}\n```")
	if err != nil {
		t.Fatalf("parseModelAnswer error: %v", err)
	}
	if got.Label != Surprised || got.Intensity != 1 {
		t.Fatalf("parseModelAnswer=%+v, want surprised/1", got)
	}
	if _, err := parseModelAnswer(`{"label":"bored","intensity":0.2}`); err == nil {
		t.Fatal("parseModelAnswer(bored) error=nil, want non-nil")
	}
}

func TestOpenAIAnalyzer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "test",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"label\":\"happy\",\"intensity\":0.7}"}}]
}`))
	}))
	defer server.Close()

	analyzer := NewOpenAIAnalyzer(OpenAIConfig{BaseURL: server.URL + "/v1", APIKey: "test", Model: "test"})
	got, err := analyzer.Analyze(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if got.Label != Happy || got.Intensity != 0.7 || got.Source != SourceModel {
		t.Fatalf("Analyze=%+v, want happy/0.7/model", got)
	}
}

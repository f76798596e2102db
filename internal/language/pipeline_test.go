package language

import (
	"context"
	"errors"
	"testing"

	"bimabot/internal/domain"
)

type fakeTranslator struct {
	detected  string
	detectErr error
	translate func(text, from, to string) (string, error)
}

func (f *fakeTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	return f.detected, f.detectErr
}

func (f *fakeTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if f.translate != nil {
		return f.translate(text, from, to)
	}
	return "[" + to + "]" + text, nil
}

func sessionWithLanguage(lang string) domain.Session {
	sess := domain.NewSession("u1")
	sess.Language = lang
	return sess
}

func TestResolve_ExplicitKeywordShortCircuits(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{detected: "en"}})

	cases := []struct {
		text string
		want string
	}{
		{"Please talk to me in Hindi", "hi"},
		{"मराठी", "mr"},
		{"switch to english please", "en"},
	}
	for _, tc := range cases {
		dec, err := p.Resolve(context.Background(), sessionWithLanguage("ta"), tc.text)
		if err != nil {
			t.Fatalf("%q: %v", tc.text, err)
		}
		if !dec.Explicit {
			t.Errorf("%q: expected explicit switch", tc.text)
		}
		if dec.Language != tc.want || dec.Sticky != tc.want {
			t.Errorf("%q: got (%s, sticky %s), want %s", tc.text, dec.Language, dec.Sticky, tc.want)
		}
	}
}

func TestResolve_MultipleKeywordsMatchDeterministically(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{detected: "en"}})

	// Keywords are scanned in sorted order, so "english" wins over
	// "hindi" every time, not per map iteration luck.
	for i := 0; i < 20; i++ {
		dec, err := p.Resolve(context.Background(), sessionWithLanguage(""), "english or hindi?")
		if err != nil {
			t.Fatal(err)
		}
		if dec.Language != "en" {
			t.Fatalf("iteration %d: language = %s, want en", i, dec.Language)
		}
	}
}

func TestResolve_FirstDetectionAdoptsNonPivot(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{detected: "hi"}})
	dec, err := p.Resolve(context.Background(), sessionWithLanguage(""), "नमस्ते")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Language != "hi" || dec.Sticky != "hi" {
		t.Errorf("got (%s, sticky %s), want hi adopted as sticky", dec.Language, dec.Sticky)
	}
}

func TestResolve_ShortPivotUtteranceDoesNotStick(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{detected: "en"}})
	dec, err := p.Resolve(context.Background(), sessionWithLanguage(""), "Ok")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Language != "en" {
		t.Errorf("language = %s, want en", dec.Language)
	}
	if dec.Sticky != "" {
		t.Errorf("two-word-or-shorter pivot reply must not establish sticky, got %q", dec.Sticky)
	}
}

func TestResolve_LongPivotUtteranceSticks(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{detected: "en"}})
	dec, err := p.Resolve(context.Background(), sessionWithLanguage(""), "I would like to know more")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Sticky != "en" {
		t.Errorf("sticky = %q, want en for a >2 word pivot sentence", dec.Sticky)
	}
}

func TestResolve_StickyWinsWithoutRedetection(t *testing.T) {
	ft := &fakeTranslator{detected: "en", detectErr: errors.New("must not be called")}
	p := NewPipeline(Config{Translator: ft})

	// A short pivot-language acknowledgement must not flip an
	// established non-pivot preference, and detection must not run.
	dec, err := p.Resolve(context.Background(), sessionWithLanguage("hi"), "Ok")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Language != "hi" || dec.Sticky != "" || dec.Explicit {
		t.Errorf("sticky preference not honoured: %+v", dec)
	}
}

func TestResolve_DetectionFailurePropagates(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{detectErr: errors.New("llm down")}})
	if _, err := p.Resolve(context.Background(), sessionWithLanguage(""), "hello there friend"); err == nil {
		t.Fatal("expected detection error to propagate")
	}
}

func TestToPivot_NoOpForPivot(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{}})
	out, err := p.ToPivot(context.Background(), "hello", "en")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Errorf("pivot input must pass through untouched, got %q", out)
	}
}

func TestToPivotAndRender_Translate(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{}})
	ctx := context.Background()

	in, err := p.ToPivot(ctx, "नमस्ते", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if in != "[en]नमस्ते" {
		t.Errorf("ToPivot = %q", in)
	}

	out, err := p.Render(ctx, "hello", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if out != "[hi]hello" {
		t.Errorf("Render = %q", out)
	}
}

func TestRender_NoOpForUnsetLanguage(t *testing.T) {
	p := NewPipeline(Config{Translator: &fakeTranslator{}})
	out, err := p.Render(context.Background(), "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hello" {
		t.Errorf("unset language must render as pivot, got %q", out)
	}
}

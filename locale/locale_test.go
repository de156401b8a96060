package locale

import (
	"reflect"
	"testing"
)

func TestEveryLanguageIsComplete(t *testing.T) {
	for lang, s := range languages {
		v := reflect.ValueOf(s)
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).String() == "" {
				t.Errorf("%s: %s is empty", lang, v.Type().Field(i).Name)
			}
		}
	}
}

func TestFor(t *testing.T) {
	s, err := For("")
	if err != nil {
		t.Fatalf("For(\"\") failed: %v", err)
	}
	if s.VKPost != "VK post" {
		t.Errorf("default VKPost = %q, want %q", s.VKPost, "VK post")
	}

	if _, err := For("de"); err == nil {
		t.Error("For(\"de\") should fail")
	}
}

func TestRange(t *testing.T) {
	ru, _ := For("ru")
	if got := ru.Range(11, 12, 12); got != "11-12 из 12" {
		t.Errorf("Range = %q, want %q", got, "11-12 из 12")
	}
}

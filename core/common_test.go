package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestPluralSingular(t *testing.T) {
	pairs := map[string]string{
		"order":      "orders",
		"company":    "companies",
		"grandchild": "grandchildren",
		"device":     "devices",
	}
	for singular, plural := range pairs {
		if Plural(singular) != plural {
			t.Fatalf("Plural(%s) = %s, want %s", singular, Plural(singular), plural)
		}
		if Singular(plural) != singular {
			t.Fatalf("Singular(%s) = %s, want %s", plural, Singular(plural), singular)
		}
	}
}

func TestOperationUnmarshal(t *testing.T) {
	var op Operation
	if err := json.Unmarshal([]byte(`"update"`), &op); err != nil {
		t.Fatal(err)
	}
	if op != OperationUpdate {
		t.Fatalf("unexpected operation %s", op)
	}
	if err := json.Unmarshal([]byte(`"explode"`), &op); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

package repository

import (
	"testing"
)

func TestJSONTextExprByDialect(t *testing.T) {
	if got, want := jsonTextExprByDialect("sqlite", "payout_destination", "method"), "json_extract(payout_destination, '$.\"method\"')"; got != want {
		t.Fatalf("sqlite json expr mismatch, want %s got %s", want, got)
	}
	if got, want := jsonTextExprByDialect("postgres", "payout_destination", "method"), "(payout_destination::jsonb ->> 'method')"; got != want {
		t.Fatalf("postgres json expr mismatch, want %s got %s", want, got)
	}
}

func TestBuildLikeConditionByDialect(t *testing.T) {
	condition, argCount := buildLikeConditionByDialect("sqlite", []string{"code", " ", "name"})
	if argCount != 2 {
		t.Fatalf("arg count want 2 got %d", argCount)
	}
	if condition != "code LIKE ? OR name LIKE ?" {
		t.Fatalf("unexpected sqlite condition: %s", condition)
	}
	condition, _ = buildLikeConditionByDialect("postgres", []string{"email"})
	if condition != "email ILIKE ?" {
		t.Fatalf("unexpected postgres condition: %s", condition)
	}
}

func TestRepeatLikeArgs(t *testing.T) {
	args := repeatLikeArgs("%ab%", 3)
	if len(args) != 3 {
		t.Fatalf("args len want 3 got %d", len(args))
	}
	for idx, arg := range args {
		if arg != "%ab%" {
			t.Fatalf("args[%d] want %%ab%% got %v", idx, arg)
		}
	}
}

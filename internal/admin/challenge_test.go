package admin

import (
	"testing"
	"time"
)

var testPasswords = []string{"alpha", "bravo", "charlie"}

func TestIssueAndVerify(t *testing.T) {
	c, err := NewChallenges(testPasswords, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ch, err := c.Issue("198.51.100.1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(ch.Token) != 32 {
		t.Errorf("token length = %d, want 32 hex chars", len(ch.Token))
	}
	if ch.PasswordIndex < 0 || ch.PasswordIndex >= len(testPasswords) {
		t.Fatalf("index %d out of range", ch.PasswordIndex)
	}

	if !c.Verify("198.51.100.1", ch.Token, testPasswords[ch.PasswordIndex]) {
		t.Error("valid token+password rejected")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	c, _ := NewChallenges(testPasswords, time.Minute)
	ch, _ := c.Issue("198.51.100.2")

	wrong := testPasswords[(ch.PasswordIndex+1)%len(testPasswords)]
	if c.Verify("198.51.100.2", ch.Token, wrong) {
		t.Error("wrong password accepted")
	}
}

func TestVerifyWrongTokenOrIdentity(t *testing.T) {
	c, _ := NewChallenges(testPasswords, time.Minute)
	ch, _ := c.Issue("198.51.100.3")
	pw := testPasswords[ch.PasswordIndex]

	if c.Verify("198.51.100.3", "deadbeefdeadbeefdeadbeefdeadbeef", pw) {
		t.Error("forged token accepted")
	}
	if c.Verify("198.51.100.99", ch.Token, pw) {
		t.Error("token accepted for a different identity")
	}
}

func TestVerifyExpired(t *testing.T) {
	c, _ := NewChallenges(testPasswords, time.Nanosecond)
	ch, _ := c.Issue("198.51.100.4")
	time.Sleep(time.Millisecond)
	if c.Verify("198.51.100.4", ch.Token, testPasswords[ch.PasswordIndex]) {
		t.Error("expired token accepted")
	}
}

func TestIssueReplacesPrevious(t *testing.T) {
	c, _ := NewChallenges(testPasswords, time.Minute)
	first, _ := c.Issue("198.51.100.5")
	second, _ := c.Issue("198.51.100.5")

	if c.Verify("198.51.100.5", first.Token, testPasswords[first.PasswordIndex]) {
		t.Error("superseded token still valid")
	}
	if !c.Verify("198.51.100.5", second.Token, testPasswords[second.PasswordIndex]) {
		t.Error("fresh token rejected")
	}
}

func TestPrune(t *testing.T) {
	c, _ := NewChallenges(testPasswords, time.Nanosecond)
	_, _ = c.Issue("a")
	_, _ = c.Issue("b")
	time.Sleep(time.Millisecond)
	if got := c.Prune(time.Now()); got != 2 {
		t.Errorf("pruned = %d, want 2", got)
	}
}

func TestEmptyPasswordList(t *testing.T) {
	if _, err := NewChallenges(nil, time.Minute); err == nil {
		t.Error("expected error for empty password list")
	}
}

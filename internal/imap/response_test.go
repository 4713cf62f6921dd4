package imap

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func untagged(text string) Line {
	return Line{Tag: "*", Segments: []string{text}}
}

func tagged(tag, text string) Line {
	return Line{Tag: tag, Segments: []string{text}}
}

func TestLoginAccepted(t *testing.T) {
	lines := []Line{
		untagged("CAPABILITY IMAP4rev1"),
		tagged("A001", "OK [CAPABILITY IMAP4rev1] Logged in"),
	}
	if !LoginAccepted("A001", lines) {
		t.Fatalf("expected accepted login")
	}
	if LoginAccepted("A002", lines) {
		t.Fatalf("a completion for another tag must not count")
	}
	if LoginAccepted("A001", []Line{tagged("A001", "NO [AUTHENTICATIONFAILED] nope")}) {
		t.Fatalf("NO must not be accepted")
	}
	if LoginAccepted("A001", []Line{untagged("OK still here")}) {
		t.Fatalf("untagged OK must not be accepted")
	}
}

func TestLoginAcceptedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tag := fmt.Sprintf("A%03d", rapid.IntRange(1, 999).Draw(t, "tag"))
		noise := rapid.SliceOfN(rapid.SampledFrom([]string{
			"OK [CAPABILITY IMAP4rev1]", "NO nope", "BAD syntax", "CAPABILITY IMAP4rev1",
		}), 0, 5).Draw(t, "noise")
		status := rapid.SampledFrom([]string{"OK", "NO", "BAD"}).Draw(t, "status")

		var lines []Line
		for _, text := range noise {
			lines = append(lines, untagged(text))
			lines = append(lines, tagged("Z999", text))
		}
		lines = append(lines, tagged(tag, status+" done"))

		if got, want := LoginAccepted(tag, lines), status == "OK"; got != want {
			t.Fatalf("LoginAccepted(%s) = %v, want %v", tag, got, want)
		}
	})
}

func TestMessageCount(t *testing.T) {
	lines := []Line{
		untagged(`FLAGS (\Seen)`),
		untagged("3 EXISTS"),
		untagged("0 RECENT"),
		untagged("7 EXISTS"),
		tagged("A002", "OK [READ-WRITE] done"),
	}
	if got := MessageCount(lines); got != 7 {
		t.Fatalf("expected last EXISTS to win, got %d", got)
	}
	if got := MessageCount([]Line{untagged("OK [UIDVALIDITY 1]")}); got != 0 {
		t.Fatalf("expected 0 without EXISTS, got %d", got)
	}
}

func TestMessageCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counts := rapid.SliceOf(rapid.Uint32()).Draw(t, "counts")
		var lines []Line
		for _, n := range counts {
			lines = append(lines, untagged("OK [UNSEEN 1]"))
			lines = append(lines, untagged(fmt.Sprintf("%d EXISTS", n)))
		}
		var want uint32
		if len(counts) > 0 {
			want = counts[len(counts)-1]
		}
		if got := MessageCount(lines); got != want {
			t.Fatalf("MessageCount = %d, want %d", got, want)
		}
	})
}

func TestParseFetch(t *testing.T) {
	line := Line{
		Tag:      "*",
		Segments: []string{`4 FETCH (UID 88 FLAGS (\Seen \Flagged) BODY[] `, ")"},
		Literals: [][]byte{[]byte("Subject: x\r\n\r\nhello\r\n")},
	}
	data, ok, err := parseFetch(line)
	if err != nil || !ok {
		t.Fatalf("parse fetch: ok=%v err=%v", ok, err)
	}
	if data.seq != 4 || data.uid != 88 {
		t.Fatalf("unexpected identifiers: %+v", data)
	}
	if strings.Join(data.flags, ",") != `\Seen,\Flagged` {
		t.Fatalf("unexpected flags: %v", data.flags)
	}
	if !data.hasBody || string(data.body) != "Subject: x\r\n\r\nhello\r\n" {
		t.Fatalf("unexpected body %q", data.body)
	}
}

func TestParseFetchVariants(t *testing.T) {
	quoted, ok, err := parseFetch(untagged(`1 FETCH (BODY[] "tiny \"quoted\" body" UID 2)`))
	if err != nil || !ok {
		t.Fatalf("quoted body: ok=%v err=%v", ok, err)
	}
	if string(quoted.body) != `tiny "quoted" body` || quoted.uid != 2 {
		t.Fatalf("unexpected quoted data: %+v", quoted)
	}

	flagsOnly, ok, err := parseFetch(untagged(`1 FETCH (FLAGS ())`))
	if err != nil || !ok || flagsOnly.hasBody {
		t.Fatalf("flags only: %+v ok=%v err=%v", flagsOnly, ok, err)
	}

	nilBody, ok, err := parseFetch(untagged(`1 FETCH (BODY[] NIL)`))
	if err != nil || !ok || nilBody.hasBody {
		t.Fatalf("NIL body must not count as a body: %+v", nilBody)
	}

	if _, ok, _ := parseFetch(untagged("3 EXISTS")); ok {
		t.Fatalf("EXISTS is not a FETCH response")
	}
	if _, ok, _ := parseFetch(tagged("A001", "OK FETCH done")); ok {
		t.Fatalf("tagged lines are not FETCH responses")
	}
	if _, _, err := parseFetch(untagged(`1 FETCH (UID 1`)); err == nil {
		t.Fatalf("expected error for unterminated list")
	}
}

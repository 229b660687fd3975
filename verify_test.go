package dkim

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func crlfMessage(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func verifyFixture(t *testing.T, raw []byte) Report {
	t.Helper()
	rep, err := VerifyWithOptions(raw, &Options{TxtLookup: testKeyFixture})
	if err != nil {
		t.Fatalf("VerifyWithOptions: %v", err)
	}
	return rep
}

const unsignedMailString = `From: Joe SixPack <joe@football.example.com>
To: Suzie Q <suzie@shopping.example.net>
Subject: Is dinner ready?
Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)
Message-ID: <20030712040037.46341.5F8J@football.example.com>

Hi.

We lost the game. Are you hungry yet?

Joe.
`

func TestVerify_unsigned(t *testing.T) {
	rep := verifyFixture(t, crlfMessage(unsignedMailString))
	if len(rep) != 0 {
		t.Fatalf("got %d results, want 0", len(rep))
	}
	if rep.Passed() {
		t.Fatalf("Passed() on an unsigned message should be false")
	}
}

const verifiedMailString = `DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;
      c=simple/simple; q=dns/txt; i=joe@football.example.com;
      h=Received : From : To : Subject : Date : Message-ID;
      bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
      b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB
      4nujc7YopdG5dWLSdNg6xNAZpOPr+kHxt1IrE+NahM6L/LbvaHut
      KVdkLLkpVaVVQPzeRDI009SO2Il5Lu7rDNH6mZckBdrIx0orEtZV
      4bmp/YzhwvcubU4=;
Received: from client1.football.example.com  [192.0.2.1]
      by submitserver.example.com with SUBMISSION;
      Fri, 11 Jul 2003 21:01:54 -0700 (PDT)
From: Joe SixPack <joe@football.example.com>
To: Suzie Q <suzie@shopping.example.net>
Subject: Is dinner ready?
Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)
Message-ID: <20030712040037.46341.5F8J@football.example.com>

Hi.

We lost the game. Are you hungry yet?

Joe.
`

func TestVerify(t *testing.T) {
	rep := verifyFixture(t, crlfMessage(verifiedMailString))
	if len(rep) != 1 {
		t.Fatalf("got %d results, want 1", len(rep))
	}

	res := rep[0]
	if !res.Verified() {
		t.Fatalf("signature did not verify: %+v", res.Diagnostics)
	}
	if !rep.Passed() {
		t.Fatalf("Passed() should be true")
	}
	if res.Domain != "example.com" {
		t.Errorf("Domain = %q, want example.com", res.Domain)
	}
	if res.Identifier != "joe@football.example.com" {
		t.Errorf("Identifier = %q, want joe@football.example.com", res.Identifier)
	}
	wantKeys := []string{"Received", "From", "To", "Subject", "Date", "Message-ID"}
	if diff := cmp.Diff(wantKeys, res.HeaderKeys); diff != "" {
		t.Errorf("HeaderKeys mismatch:\n%s", diff)
	}
}

const verifiedRawRSAMailString = `DKIM-Signature: a=rsa-sha256; bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
 c=simple/simple; d=example.com;
 h=Received:From:To:Subject:Date:Message-ID; i=joe@football.example.com;
 s=newengland; t=1615825284; v=1;
 b=Xh4Ujb2wv5x54gXtulCiy4C0e+plRm6pZ4owF+kICpYzs/8WkTVIDBrzhJP0DAYCpnL62T0G
 k+0OH8pi/yqETVjKtKk+peMnNvKkut0GeWZMTze0bfq3/JUK3Ln3jTzzpXxrgVnvBxeY9EZIL4g
 s4wwFRRKz/1bksZGSjD8uuSU=
Received: from client1.football.example.com  [192.0.2.1]
      by submitserver.example.com with SUBMISSION;
      Fri, 11 Jul 2003 21:01:54 -0700 (PDT)
From: Joe SixPack <joe@football.example.com>
To: Suzie Q <suzie@shopping.example.net>
Subject: Is dinner ready?
Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)
Message-ID: <20030712040037.46341.5F8J@football.example.com>

Hi.

We lost the game. Are you hungry yet?

Joe.
`

func TestVerify_rawRSA(t *testing.T) {
	rep := verifyFixture(t, crlfMessage(verifiedRawRSAMailString))
	if len(rep) != 1 {
		t.Fatalf("got %d results, want 1", len(rep))
	}

	res := rep[0]
	if !res.Verified() {
		t.Fatalf("signature did not verify: %+v", res.Diagnostics)
	}
	wantTime := time.Unix(1615825284, 0).UTC()
	if !res.Time.Equal(wantTime) {
		t.Errorf("Time = %v, want %v", res.Time, wantTime)
	}
}

const verifiedEd25519MailString = `DKIM-Signature: v=1; a=ed25519-sha256; c=relaxed/relaxed;
 d=football.example.com; i=@football.example.com;
 q=dns/txt; s=brisbane; t=1528637909; h=from : to :
 subject : date : message-id : from : subject : date;
 bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
 b=/gCrinpcQOoIfuHNQIbq4pgh9kyIK3AQUdt9OdqQehSwhEIug4D11Bus
 Fa3bT3FY5OsU7ZbnKELq+eXdp1Q1Dw==
DKIM-Signature: v=1; a=rsa-sha256; c=relaxed/relaxed;
 d=football.example.com; i=@football.example.com;
 q=dns/txt; s=test; t=1528637909; h=from : to : subject :
 date : message-id : from : subject : date;
 bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
 b=F45dVWDfMbQDGHJFlXUNB2HKfbCeLRyhDXgFpEL8GwpsRe0IeIixNTe3
 DhCVlUrSjV4BwcVcOF6+FF3Zo9Rpo1tFOeS9mPYQTnGdaSGsgeefOsk2Jz
 dA+L10TeYt9BgDfQNZtKdN1WO//KgIqXP7OdEFE4LjFYNcUxZQ4FADY+8=
From: Joe SixPack <joe@football.example.com>
To: Suzie Q <suzie@shopping.example.net>
Subject: Is dinner ready?
Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)
Message-ID: <20030712040037.46341.5F8J@football.example.com>

Hi.

We lost the game.  Are you hungry yet?

Joe.`

func TestVerify_ed25519(t *testing.T) {
	rep := verifyFixture(t, crlfMessage(verifiedEd25519MailString))
	if len(rep) != 2 {
		t.Fatalf("got %d results, want 2", len(rep))
	}

	for i, res := range rep {
		if !res.Verified() {
			t.Errorf("signature %d did not verify: %+v", i, res.Diagnostics)
		}
		if res.Domain != "football.example.com" {
			t.Errorf("signature %d Domain = %q, want football.example.com", i, res.Domain)
		}
		if res.Identifier != "@football.example.com" {
			t.Errorf("signature %d Identifier = %q, want @football.example.com", i, res.Identifier)
		}
	}

	// Two valid signatures on one message does not satisfy the
	// exactly-one-signature aggregated pass predicate.
	if rep.Passed() {
		t.Errorf("Passed() should be false when more than one signature is present")
	}
}

func TestVerify_invalidMessage(t *testing.T) {
	_, err := Verify([]byte("not-a-header-block"))
	if err == nil {
		t.Fatalf("expected an error for an unparseable message")
	}

	_, err = Verify(nil)
	if err == nil {
		t.Fatalf("expected an error for an empty message")
	}
}

const tooManySignaturesMailString = `DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;
      c=simple/simple; q=dns/txt; i=joe@football.example.com;
      h=Received : From : To : Subject : Date : Message-ID;
      bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
      b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB
      4nujc7YopdG5dWLSdNg6xNAZpOPr+kHxt1IrE+NahM6L/LbvaHut
      KVdkLLkpVaVVQPzeRDI009SO2Il5Lu7rDNH6mZckBdrIx0orEtZV
      4bmp/YzhwvcubU4=;
DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;
      c=simple/simple; q=dns/txt; i=joe@football.example.com;
      h=Received : From : To : Subject : Date : Message-ID;
      bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
      b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB
      4nujc7YopdG5dWLSdNg6xNAZpOPr+kHxt1IrE+NahM6L/LbvaHut
      KVdkLLkpVaVVQPzeRDI009SO2Il5Lu7rDNH6mZckBdrIx0orEtZV
      4bmp/YzhwvcubU4=;
DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;
      c=simple/simple; q=dns/txt; i=joe@football.example.com;
      h=Received : From : To : Subject : Date : Message-ID;
      bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
      b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB
      4nujc7YopdG5dWLSdNg6xNAZpOPr+kHxt1IrE+NahM6L/LbvaHut
      KVdkLLkpVaVVQPzeRDI009SO2Il5Lu7rDNH6mZckBdrIx0orEtZV
      4bmp/YzhwvcubU4=;
Received: from client1.football.example.com  [192.0.2.1]
      by submitserver.example.com with SUBMISSION;
      Fri, 11 Jul 2003 21:01:54 -0700 (PDT)
From: Joe SixPack <joe@football.example.com>
To: Suzie Q <suzie@shopping.example.net>
Subject: Is dinner ready?
Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)
Message-ID: <20030712040037.46341.5F8J@football.example.com>

Hi.

We lost the game. Are you hungry yet?

Joe.
`

func TestVerify_multipleIdenticalSignatures(t *testing.T) {
	rep := verifyFixture(t, crlfMessage(tooManySignaturesMailString))
	if len(rep) != 3 {
		t.Fatalf("got %d results, want 3", len(rep))
	}
	for i, res := range rep {
		if !res.Verified() {
			t.Errorf("signature %d did not verify: %+v", i, res.Diagnostics)
		}
	}
	if rep.Passed() {
		t.Errorf("Passed() should be false with three signatures present")
	}
}

func TestVerify_missingFrom(t *testing.T) {
	msg := `DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;
 c=simple/simple; q=dns/txt;
 h=Date:Subject;
 bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
 b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB;
Subject: Is dinner ready?
Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)

Hi.
`
	rep := verifyFixture(t, crlfMessage(msg))
	if len(rep) != 1 {
		t.Fatalf("got %d results, want 1", len(rep))
	}
	res := rep[0]
	if res.Verified() {
		t.Fatalf("expected failure when From is not in h=")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Status == StatusPermFail && strings.Contains(d.Reason, "From header not included") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a PERMFAIL diagnostic about From not being signed, got %+v", res.Diagnostics)
	}
}

func TestVerify_expired(t *testing.T) {
	msg := `DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;
 c=simple/simple; q=dns/txt; h=From; x=1000000000;
 bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;
 b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB;
From: Joe SixPack <joe@football.example.com>

Hi.
`
	rep := verifyFixture(t, crlfMessage(msg))
	res := rep[0]
	if res.Verified() {
		t.Fatalf("expected failure for an expired signature")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Status == StatusPermFail && strings.Contains(d.Reason, "expired") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a PERMFAIL diagnostic about expiry, got %+v", res.Diagnostics)
	}
}

func TestVerify_unknownSelector(t *testing.T) {
	rep := verifyFixture(t, crlfMessage(strings.Replace(verifiedMailString, "s=brisbane", "s=nosuchselector", 1)))
	res := rep[0]
	if res.Verified() {
		t.Fatalf("expected failure for an unpublished selector")
	}
	var sawFail bool
	for _, d := range res.Diagnostics {
		if d.Status != StatusInfo {
			sawFail = true
		}
	}
	if !sawFail {
		t.Errorf("expected a failing diagnostic, got %+v", res.Diagnostics)
	}
}

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{nil, None},
		{ErrWouldBlock, Transient},
		{fmt.Errorf("read: %w", ErrInterrupted), Transient},
		{io.EOF, Closed},
		{net.ErrClosed, Closed},
		{syscall.ECONNRESET, Closed},
		{fmt.Errorf("write: %w", syscall.EPIPE), Closed},
		{errors.New("boom"), Terminal},
		{syscall.EIO, Terminal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestInterestBits(t *testing.T) {
	if !InterestBoth.Readable() || !InterestBoth.Writable() {
		t.Fatalf("both should be readable and writable")
	}
	if InterestRead.Writable() || InterestWrite.Readable() {
		t.Fatalf("single interests leaked bits")
	}
	if InterestNone.String() != "none" || InterestBoth.String() != "read|write" {
		t.Fatalf("unexpected interest names")
	}
}

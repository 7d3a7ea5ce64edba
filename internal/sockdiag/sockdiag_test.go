package sockdiag

import "testing"

func TestGetInfoOnInvalidFdFails(t *testing.T) {
	if _, err := GetInfo(-1); err == nil {
		t.Fatal("expected an error reading TCP_INFO off an invalid file descriptor")
	}
}

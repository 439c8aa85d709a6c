package encryption

import (
	"bytes"
	"fmt"
	"io"

	"lvm-go/internal/lvm"
)

// PlainEncryptor stores snapshots unencrypted, for archives that are already
// private (a second local disk, an encrypted bucket).
type PlainEncryptor struct{}

var _ lvm.Encryptor = PlainEncryptor{}

func (PlainEncryptor) Setup(string) error { return nil }

func (PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (PlainEncryptor) Unlock(string) (lvm.DecryptionContext, error) { return plainDecryption{}, nil }

func (PlainEncryptor) IsConfigured() bool { return true }

type plainDecryption struct{}

func (plainDecryption) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

// markerHeader tags output of MarkerEncryptor so tests can tell encrypted
// bytes from plaintext without real cryptography.
var markerHeader = []byte("LVMENC\x00\x01")

// MarkerEncryptor is a deterministic stand-in for tests. It prefixes a fixed
// header on Encrypt and requires it on Decrypt.
type MarkerEncryptor struct {
	SetupCalls int
}

var _ lvm.Encryptor = (*MarkerEncryptor)(nil)

func NewMarkerEncryptor() *MarkerEncryptor { return &MarkerEncryptor{} }

func (e *MarkerEncryptor) Setup(string) error {
	e.SetupCalls++
	return nil
}

func (e *MarkerEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(markerHeader); err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	_, err := io.Copy(w, r)
	return err
}

func (e *MarkerEncryptor) Unlock(string) (lvm.DecryptionContext, error) {
	return markerDecryption{}, nil
}

func (e *MarkerEncryptor) IsConfigured() bool { return true }

type markerDecryption struct{}

func (markerDecryption) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(markerHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading marker: %w", err)
	}
	if !bytes.Equal(header, markerHeader) {
		return fmt.Errorf("data was not written by MarkerEncryptor")
	}
	_, err := io.Copy(w, r)
	return err
}

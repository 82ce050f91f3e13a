package credential

// Guard encrypts secrets with key material bound to the executing machine.
// Decrypt fails closed: any failure returns ErrCredentialUnavailable and
// never the cause.
type Guard interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

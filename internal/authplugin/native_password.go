package authplugin

import "crypto/sha1"

// nativePassword implements mysql_native_password: SHA1(password) XOR
// SHA1(challenge ++ SHA1(SHA1(password))).
type nativePassword struct{}

func (nativePassword) Name() string { return "mysql_native_password" }

func (nativePassword) Respond(password string, challenge []byte) ([]byte, error) {
	if password == "" {
		return []byte{}, nil
	}
	pwHash := sha1.Sum([]byte(password))
	pwHashHash := sha1.Sum(pwHash[:])

	h := sha1.New()
	h.Write(challenge)
	h.Write(pwHashHash[:])
	challengeHash := h.Sum(nil)

	out := make([]byte, len(pwHash))
	for i := range pwHash {
		out[i] = pwHash[i] ^ challengeHash[i]
	}
	return out, nil
}

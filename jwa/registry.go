package jwa

// Names lists every JWA signature algorithm name this adapter can verify,
// each given as its JOSE "alg" string. RS256/384/512, ES256/384/512 and EdDSA are
// the algorithms the verifier core requires; PS256/384/512 are carried along
// as a bonus capability since the underlying crypto already implements them.
var Names = []string{
	RS256.String(), RS384.String(), RS512.String(),
	PS256.String(), PS384.String(), PS512.String(),
	ES256.String(), ES384.String(), ES512.String(),
	EdDSA.String(),
}

// Supported reports whether name is a JWA signature algorithm this adapter
// can verify.
func Supported(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

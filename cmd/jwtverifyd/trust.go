// Trust-store types loaded from the file given by --trust-store: the set of
// issuers jwtverifyd accepts tokens from, grouped by provider shape.
package main

// TrustStore is the top-level shape of the trust-store file. Every section
// is optional; an empty TrustStore accepts nothing and every /v1/verify/*
// route responds 404.
type TrustStore struct {
	Generic []GenericIssuer `json:"generic,omitempty" yaml:"generic,omitempty"`
	Cognito *CognitoTrust   `json:"cognito,omitempty" yaml:"cognito,omitempty"`
	ALB     *ALBTrust       `json:"alb,omitempty" yaml:"alb,omitempty"`
}

// GenericIssuer trusts tokens with payload "iss" == Issuer, fetching keys
// from JwksURI. Audience, if non-empty, is checked against payload "aud".
type GenericIssuer struct {
	Issuer   string   `json:"issuer" yaml:"issuer"`
	JwksURI  string   `json:"jwksUri" yaml:"jwksUri"`
	Audience []string `json:"audience,omitempty" yaml:"audience,omitempty"`
}

// CognitoTrust configures the Cognito provider facade. TokenUse, if set,
// restricts accepted tokens to that single token_use value.
type CognitoTrust struct {
	TokenUse string        `json:"tokenUse,omitempty" yaml:"tokenUse,omitempty"`
	Pools    []CognitoPool `json:"pools" yaml:"pools"`
}

type CognitoPool struct {
	ID        string   `json:"id" yaml:"id"`
	ClientIDs []string `json:"clientIds,omitempty" yaml:"clientIds,omitempty"`
	Groups    []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ALBTrust configures the ALB provider facade.
type ALBTrust struct {
	Signers []ALBSigner `json:"signers" yaml:"signers"`
}

type ALBSigner struct {
	ARN       string   `json:"arn" yaml:"arn"`
	ClientIDs []string `json:"clientIds,omitempty" yaml:"clientIds,omitempty"`
}

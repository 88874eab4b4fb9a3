// Package revocation revokes and inspects identity provider access tokens.
//
// Revocation is an ordered chain of strategies, each answering Revoked,
// Failed or Inconclusive:
//
//	Revoke:       grant_deletion -> validation_check
//	RevokeDirect: user_info_probe
//
// grant_deletion calls the provider's revocation API (GitHub's
// DELETE /applications/{client_id}/grant, or the RFC 7009 endpoint of an OIDC
// provider). If that cannot confirm revocation, validation_check asks the
// provider whether the token still works; a rejected token counts as revoked
// because the desired end state holds.
//
// Tokens never appear in logs in full; use MaskToken.
package revocation

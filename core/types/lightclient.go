package types

// LightClientBlock is the compact per-epoch view constructed when head
// crosses an epoch boundary: the closing epoch's last final header plus the
// next epoch's ordered block producers, enough for a verifier that has not
// followed every header to check the following epoch's signatures.
type LightClientBlock struct {
	Header  *Header
	NextBPs []ValidatorStake
}

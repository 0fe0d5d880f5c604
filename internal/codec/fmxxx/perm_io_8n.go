package fmxxx

// 8-byte and variable-width IO elements.
const (
	ICCID1    ID = 11
	ICCID2    ID = 14
	IButton   ID = 78
	ICCIDPt1  ID = 219
	ICCIDPt2  ID = 220
	ICCIDPt3  ID = 221
	BeaconIDs ID = 385
)

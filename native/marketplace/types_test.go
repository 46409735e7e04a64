package marketplace

import (
	"errors"
	"math/big"
	"testing"
)

func TestListingCloneIsDeep(t *testing.T) {
	original := &Listing{AssetContract: collection, AssetID: big.NewInt(7), Seller: deployer, Price: big.NewInt(10)}
	clone := original.Clone()
	clone.Price.SetInt64(99)
	clone.AssetID.SetInt64(1)
	if original.Price.Int64() != 10 || original.AssetID.Int64() != 7 {
		t.Fatalf("clone shares big.Int storage with original")
	}
	var nilListing *Listing
	if nilListing.Clone() != nil || nilListing.Active() {
		t.Fatalf("nil listing should clone to nil and be inactive")
	}
}

func TestListingKeyDistinguishesContractAndID(t *testing.T) {
	a := ListingKey(collection, big.NewInt(1))
	if a != ListingKey(collection, big.NewInt(1)) {
		t.Fatalf("listing key must be deterministic")
	}
	if a == ListingKey(collection, big.NewInt(2)) {
		t.Fatalf("different ids must not collide")
	}
	if a == ListingKey(deployer, big.NewInt(1)) {
		t.Fatalf("different contracts must not collide")
	}
}

func TestParseAssetID(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	cases := []struct {
		raw     string
		want    *big.Int
		wantErr bool
	}{
		{raw: "0", want: big.NewInt(0)},
		{raw: " 42 ", want: big.NewInt(42)},
		{raw: max.String(), want: max},
		{raw: new(big.Int).Add(max, big.NewInt(1)).String(), wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "0x10", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseAssetID(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAssetID) {
				t.Fatalf("ParseAssetID(%q): expected ErrInvalidAssetID, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAssetID(%q): %v", tc.raw, err)
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("ParseAssetID(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParseAddressAndAmount(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000c0")
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	if addr[19] != 0xC0 {
		t.Fatalf("unexpected address bytes: %x", addr)
	}
	if _, err := ParseAddress("not-an-address"); err == nil {
		t.Fatalf("expected error for malformed address")
	}
	if _, err := ParseAmount("-3"); err == nil {
		t.Fatalf("expected error for negative amount")
	}
	amount, err := ParseAmount("100000000000000000")
	if err != nil || amount.Cmp(price) != 0 {
		t.Fatalf("unexpected amount %v (%v)", amount, err)
	}
}

package sos

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	fundmodels "sos/internal/fund/models"
)

const (
	metadataName        = "SOS Chain"
	metadataDescription = "SOS Chain Donation NFT"
	dataURIPrefix       = "data:application/json;base64,"
)

// Descriptor renders token metadata. It has its own address so it can be
// registered under NFT_DESCRIPTOR.
type Descriptor struct {
	address common.Address
}

func NewDescriptor(address common.Address) *Descriptor {
	return &Descriptor{address: address}
}

func (d *Descriptor) Address() common.Address { return d.address }

type attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata follows the common NFT metadata layout.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attributes  []attribute `json:"attributes"`
}

// Describe builds the metadata of t for the fund it was minted for.
func (d *Descriptor) Describe(t *Token, meta fundmodels.Meta) Metadata {
	return Metadata{
		Name:        metadataName,
		Description: metadataDescription,
		Attributes: []attribute{
			{TraitType: "fund", Value: meta.Name},
			{TraitType: "focus", Value: meta.Focus},
			{TraitType: "amount", Value: t.Amount.String()},
			{TraitType: "asset", Value: t.Asset.Hex()},
			{TraitType: "minted_at", Value: t.MintedAt.UTC().Format(time.RFC3339)},
		},
	}
}

// TokenURI returns Describe as a base64 JSON data URI.
func (d *Descriptor) TokenURI(t *Token, meta fundmodels.Meta) (string, error) {
	raw, err := json.Marshal(d.Describe(t, meta))
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/dto"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/txn"
)

const seedOne = "0101010101010101010101010101010101010101010101010101010101010101"

func keygen(t *testing.T, seed string) (pub, priv string) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, dispatch([]string{"keygen", "--seed", seed}, nil, &out))
	var keys map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &keys))
	return keys["public_key"], keys["private_key"]
}

func TestKeygen_Deterministic(t *testing.T) {
	pub1, priv1 := keygen(t, seedOne)
	pub2, priv2 := keygen(t, seedOne)
	assert.Equal(t, pub1, pub2)
	assert.Equal(t, priv1, priv2)

	kp, err := txn.ParseKeypair(priv1)
	require.NoError(t, err)
	assert.Equal(t, pub1, kp.Public.String())
}

func TestDerive(t *testing.T) {
	pub, _ := keygen(t, seedOne)

	var out bytes.Buffer
	require.NoError(t, dispatch([]string{"derive", "event", "--organizer", pub, "--event-id", "3"}, nil, &out))

	var resp dto.DeriveResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))

	d := address.NewDeriver(domain.MustParseAddress(address.DefaultProgramID))
	want, err := d.Event(domain.MustParseAddress(pub), 3)
	require.NoError(t, err)
	assert.Equal(t, want.Address, resp.Address)
	assert.Equal(t, want.Bump, resp.Bump)

	err = dispatch([]string{"derive", "ticket", "--event", want.Address.String()}, nil, &out)
	assert.Error(t, err)
}

func TestBuild_ProducesVerifiableTransaction(t *testing.T) {
	_, priv := keygen(t, seedOne)

	var out bytes.Buffer
	require.NoError(t, dispatch([]string{
		"build", txn.CreateEvent,
		"--key", priv,
		"--nonce", "7",
		"--event-id", "1",
		"--price", "100",
		"--supply", "10",
		"--name", "Summer Fest",
		"--date", "2026-07-01",
	}, nil, &out))

	var req dto.SubmitTransactionRequest
	require.NoError(t, json.Unmarshal(out.Bytes(), &req))
	tx, err := req.ToTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.Verify())

	require.Len(t, tx.Message.Instructions, 1)
	ix := tx.Message.Instructions[0]
	assert.Equal(t, txn.CreateEvent, ix.Program)
	assert.Equal(t, uint64(7), tx.Message.Nonce)

	var args txn.CreateEventArgs
	require.NoError(t, ix.DecodeArgs(&args))
	assert.Equal(t, "Summer Fest", args.Name)
	assert.Equal(t, uint32(10), args.Supply)
}

func TestBuildInstruction(t *testing.T) {
	d := address.NewDeriver(domain.MustParseAddress(address.DefaultProgramID))
	org, err := txn.KeypairFromSeed(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	buyer, err := txn.KeypairFromSeed(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	event, err := d.Event(org.Public, 1)
	require.NoError(t, err)
	ticket, err := d.Ticket(event.Address, 0)
	require.NoError(t, err)
	vault, err := d.Vault(event.Address)
	require.NoError(t, err)

	tests := []struct {
		name        string
		instruction string
		params      buildParams
		want        []domain.Address
		wantErr     string
	}{
		{
			name:        "mint derives event ticket and vault",
			instruction: txn.MintTicket,
			params:      buildParams{Keys: []*txn.Keypair{buyer}, Organizer: org.Public, EventID: 1},
			want:        []domain.Address{event.Address, ticket.Address, vault.Address, buyer.Public},
		},
		{
			name:        "refund uses the signer as authority",
			instruction: txn.Refund,
			params:      buildParams{Keys: []*txn.Keypair{org}, EventID: 1, TicketOwner: buyer.Public},
			want:        []domain.Address{event.Address, ticket.Address, vault.Address, buyer.Public, org.Public},
		},
		{
			name:        "check in",
			instruction: txn.CheckIn,
			params:      buildParams{Keys: []*txn.Keypair{org}, EventID: 1},
			want:        []domain.Address{event.Address, ticket.Address, org.Public},
		},
		{
			name:        "transfer requires new owner",
			instruction: txn.TransferTicket,
			params:      buildParams{Keys: []*txn.Keypair{buyer}, Organizer: org.Public, EventID: 1},
			wantErr:     "--new-owner",
		},
		{
			name:        "mint requires organizer",
			instruction: txn.MintTicket,
			params:      buildParams{Keys: []*txn.Keypair{buyer}, EventID: 1},
			wantErr:     "--organizer",
		},
		{
			name:        "unknown instruction",
			instruction: "burn_ticket",
			params:      buildParams{Keys: []*txn.Keypair{buyer}},
			wantErr:     "unknown instruction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := buildInstruction(d, tt.instruction, &tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			got := make([]domain.Address, 0, len(ix.Accounts))
			for _, m := range ix.Accounts {
				got = append(got, m.Address)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildTransaction_RequiresKey(t *testing.T) {
	d := address.NewDeriver(domain.MustParseAddress(address.DefaultProgramID))
	_, err := buildTransaction(d, txn.RegisterOrganizer, &buildParams{})
	assert.Error(t, err)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, dispatch([]string{"mint"}, nil, &out))
	assert.Contains(t, out.String(), "Usage: ticketctl")
}

package repository

import (
	"encoding/binary"

	"derby/models"
)

// Key layout of the local store:
//
//	pref/<store>/<key>   preference value
//	ledger/<seq be64>    JSON balance history entry
//	meta/ledger_seq      last ledger sequence, be64
var (
	ledgerPrefix = []byte("ledger/")
	ledgerEnd    = []byte("ledger0") // '0' sorts right after '/'
	ledgerSeqKey = []byte("meta/ledger_seq")
)

func kPref(store models.PreferenceStore, key string) []byte {
	return []byte("pref/" + string(store) + "/" + key)
}

func kLedger(seq uint64) []byte {
	k := make([]byte, len(ledgerPrefix)+8)
	copy(k, ledgerPrefix)
	binary.BigEndian.PutUint64(k[len(ledgerPrefix):], seq)
	return k
}

func encodeSeq(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

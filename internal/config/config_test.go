package config

import (
	"errors"
	"testing"

	"github.com/cuwacunu/tsi/internal/errs"
)

func TestInitAndGet(t *testing.T) {
	s := New()
	if _, _, err := s.Get(KeyDtype); !errors.Is(err, errs.ErrInternal) {
		t.Fatalf("read before init: err = %v, want internal", err)
	}

	if err := s.Init(map[string]string{KeyDtype: "float32", KeyDevice: "cpu"}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get(KeyDtype)
	if err != nil || !ok || v != "float32" {
		t.Fatalf("get dtype = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := s.Get(KeyTorchSeed); ok {
		t.Error("unset key reported present")
	}
	if _, err := s.MustGet(KeyTorchSeed); !errors.Is(err, errs.ErrIOMissing) {
		t.Errorf("must-get unset key: err = %v, want io-missing", err)
	}
}

func TestInitRejectsUnknownKey(t *testing.T) {
	s := New()
	err := s.Init(map[string]string{"no_such_key": "x"})
	if !errors.Is(err, errs.ErrReference) {
		t.Fatalf("err = %v, want reference", err)
	}
}

func TestUpdateConfigValidatesEagerly(t *testing.T) {
	s := New()
	if err := s.Init(nil); err != nil {
		t.Fatal(err)
	}

	// One bad key rejects the whole batch before any write lands.
	err := s.UpdateConfig(map[string]string{
		KeyDevice:    "cuda",
		"typo_ahead": "x",
	}, nil)
	if !errors.Is(err, errs.ErrReference) {
		t.Fatalf("err = %v, want reference", err)
	}
	if _, ok, _ := s.Get(KeyDevice); ok {
		t.Error("partial write landed despite validation failure")
	}

	if err := s.UpdateConfig(map[string]string{KeyBoardGrammar: "<board> ::= x ;"},
		map[string]map[string]string{"contract-1": {"lr": "0.001"}}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetContract("contract-1", "lr")
	if err != nil || !ok || v != "0.001" {
		t.Fatalf("contract get = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := s.GetContract("contract-2", "lr"); ok {
		t.Error("unknown contract reported present")
	}
}

func TestFinitRequiresReinit(t *testing.T) {
	s := New()
	if err := s.Init(map[string]string{KeyDtype: "float32"}); err != nil {
		t.Fatal(err)
	}
	s.Finit()
	if _, _, err := s.Get(KeyDtype); !errors.Is(err, errs.ErrInternal) {
		t.Fatalf("read after finit: err = %v, want internal", err)
	}
}

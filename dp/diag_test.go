package dp

import "testing"

func TestParseDiagRejectsShortDU(t *testing.T) {
	_, err := ParseDiag([]byte{0x00, 0x00, 0x00, 0x00, 0x00})
	if err != ErrBadDiagLen {
		t.Fatalf("got %v, want ErrBadDiagLen", err)
	}
}

func TestParseDiagDecodesStandardFields(t *testing.T) {
	du := []byte{0x04 /* Cfg_Fault */, 0x01 /* Prm_Req */, 0x00, 0x02, 0x12, 0x34}
	d, err := ParseDiag(du)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.CfgFault {
		t.Error("expected CfgFault set")
	}
	if !d.PrmReq {
		t.Error("expected PrmReq set")
	}
	if d.MasterAddr != 2 {
		t.Errorf("got MasterAddr=%d, want 2", d.MasterAddr)
	}
	if d.IdentNumber != 0x1234 {
		t.Errorf("got IdentNumber=%#x, want 0x1234", d.IdentNumber)
	}
}

func TestParseDiagKeepsExtraBytesVerbatim(t *testing.T) {
	du := []byte{0, 0, 0, 0, 0, 0, 0xAA, 0xBB}
	d, err := ParseDiag(du)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Extra) != 2 || d.Extra[0] != 0xAA || d.Extra[1] != 0xBB {
		t.Fatalf("got Extra=%x, want [aa bb]", d.Extra)
	}
}

func TestDiagReadyRejectsStationNonExistent(t *testing.T) {
	d := Diag{StationNonExistent: true}
	if d.Ready() {
		t.Fatal("Station_Non_Existent must never be Ready")
	}
}

func TestDiagReadyRejectsOutstandingFaults(t *testing.T) {
	cases := []Diag{
		{PrmReq: true},
		{CfgFault: true},
		{PrmFault: true},
	}
	for _, d := range cases {
		if d.Ready() {
			t.Errorf("%+v should not be Ready", d)
		}
	}
}

func TestDiagReadyAcceptsCleanDiagnosis(t *testing.T) {
	d := Diag{}
	if !d.Ready() {
		t.Fatal("an all-clear diagnosis should be Ready")
	}
}

func TestDiagNeedsReparamRequiresExistingStation(t *testing.T) {
	d := Diag{StationNonExistent: true, PrmReq: true}
	if d.NeedsReparam() {
		t.Fatal("a non-existent station should never need reparam")
	}
}

func TestDiagNeedsReparamOnPrmReqOrFaults(t *testing.T) {
	cases := []Diag{
		{PrmReq: true},
		{PrmFault: true},
		{CfgFault: true},
	}
	for _, d := range cases {
		if !d.NeedsReparam() {
			t.Errorf("%+v should need reparam", d)
		}
	}
}

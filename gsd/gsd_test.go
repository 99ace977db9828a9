package gsd

import "testing"

func validDescription() *DeviceDescription {
	return &DeviceDescription{
		IdentNumber:        0x1234,
		SupportedBaudRates: []int{9600, 500000},
		MaxTsdrByBaud:      map[int]int{9600: 60, 500000: 100},
		MaxUserPrmDataLen:  8,
		DefaultUserPrmData: []byte{0x00, 0x01},
		Modules: []Module{
			{Name: "2AI", CfgByte: 0x51, InputSize: 4},
			{Name: "2AO", CfgByte: 0x71, OutputSize: 4},
		},
		Station: StationAttributes{SyncCapable: true, FreezeCapable: true},
	}
}

func TestValidateAcceptsWellFormedDescription(t *testing.T) {
	if err := validDescription().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingIdentNumber(t *testing.T) {
	d := validDescription()
	d.IdentNumber = 0
	if err := d.Validate(); err != ErrNoIdentNumber {
		t.Fatalf("got %v, want ErrNoIdentNumber", err)
	}
}

func TestValidateRejectsBaudWithoutTsdr(t *testing.T) {
	d := validDescription()
	d.SupportedBaudRates = append(d.SupportedBaudRates, 1500000)
	if err := d.Validate(); err != ErrMissingTsdr {
		t.Fatalf("got %v, want ErrMissingTsdr", err)
	}
}

func TestValidateRejectsOversizedDefaultPrmData(t *testing.T) {
	d := validDescription()
	d.MaxUserPrmDataLen = 1
	if err := d.Validate(); err != ErrPrmDataTooLong {
		t.Fatalf("got %v, want ErrPrmDataTooLong", err)
	}
}

func TestValidateRejectsZeroSizeModule(t *testing.T) {
	d := validDescription()
	d.Modules = append(d.Modules, Module{Name: "empty", CfgByte: 0x00})
	if err := d.Validate(); err != ErrModuleNoSize {
		t.Fatalf("got %v, want ErrModuleNoSize", err)
	}
}

func TestTotalIOSizeSumsModules(t *testing.T) {
	d := validDescription()
	in, out := d.TotalIOSize()
	if in != 4 || out != 4 {
		t.Fatalf("got in=%d out=%d, want 4/4", in, out)
	}
}

func TestCfgDataConcatenatesModuleBytes(t *testing.T) {
	d := validDescription()
	got := d.CfgData()
	want := []byte{0x51, 0x71}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %x, want %x", got, want)
	}
}

package telegram

import (
	"testing"
	"time"
)

func TestParseCommand_NoArgs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantCmd string
		wantErr bool
	}{
		{"simple status", "/status", "status", false},
		{"uppercase", "/STATUS", "status", false},
		{"with spaces", "/alerts  ", "alerts", false},
		{"bot mention", "/alerts@DeFairyBot", "alerts", false},
		{"russian", "/статус", "status", false},
		{"not a command", "status", "", true},
		{"unknown", "/buy", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && args.Command != tt.wantCmd {
				t.Errorf("ParseCommand() command = %v, want %v", args.Command, tt.wantCmd)
			}
		})
	}
}

func TestParseCommand_QueueKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantCmd string
		wantKey string
		wantErr bool
	}{
		{"execute", "/execute SOL-USDC_Orca", "execute", "SOL-USDC_Orca", false},
		{"confirm", "/confirm SOL-USDC_Raydium", "confirm", "SOL-USDC_Raydium", false},
		{"preview", "/preview abc_Orca", "preview", "abc_Orca", false},
		{"russian cancel", "/отмена abc_Orca", "cancel", "abc_Orca", false},
		{"missing key", "/execute", "", "", true},
		{"dismiss missing key", "/dismiss", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if args.Command != tt.wantCmd || args.Key != tt.wantKey {
				t.Errorf("ParseCommand() = %s %s, want %s %s", args.Command, args.Key, tt.wantCmd, tt.wantKey)
			}
		})
	}
}

func TestParseCommand_Snooze(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantDuration time.Duration
		wantErr      bool
	}{
		{"default", "/snooze k_Orca", 0, false},
		{"minutes", "/snooze k_Orca 45", 45 * time.Minute, false},
		{"go duration", "/snooze k_Orca 2h", 2 * time.Hour, false},
		{"too long", "/snooze k_Orca 48h", 0, true},
		{"negative", "/snooze k_Orca -5", 0, true},
		{"garbage", "/snooze k_Orca soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && args.Duration != tt.wantDuration {
				t.Errorf("ParseCommand() duration = %v, want %v", args.Duration, tt.wantDuration)
			}
		})
	}
}

func TestParseCommand_KillSwitch(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantAction string
		wantReason string
		wantErr    bool
	}{
		{"status", "/killswitch", "status", "", false},
		{"on with reason", "/killswitch on rpc outage", "on", "rpc outage", false},
		{"on default reason", "/killswitch вкл", "on", "manual", false},
		{"off", "/killswitch off", "off", "", false},
		{"invalid", "/killswitch maybe", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseCommand(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if args.Action != tt.wantAction || args.Reason != tt.wantReason {
				t.Errorf("ParseCommand() = %q %q, want %q %q", args.Action, args.Reason, tt.wantAction, tt.wantReason)
			}
		})
	}
}

func TestParseCommand_Misc(t *testing.T) {
	args, err := ParseCommand("/link " + linkedWallet)
	if err != nil || args.Wallet != linkedWallet {
		t.Errorf("link: %v %+v", err, args)
	}

	args, err = ParseCommand("/enable_pool SOL-USDC")
	if err != nil || args.Command != "enable_pool" || args.PoolID != "SOL-USDC" {
		t.Errorf("enable_pool: %v %+v", err, args)
	}

	args, err = ParseCommand("/history")
	if err != nil || args.Count != 10 {
		t.Errorf("history default: %v %+v", err, args)
	}

	if _, err := ParseCommand("/history 100"); err == nil {
		t.Error("history over limit should fail")
	}

	args, err = ParseCommand("/auto yes")
	if err != nil || args.Action != "on" {
		t.Errorf("auto: %v %+v", err, args)
	}
}

func TestCallbackRoundTrip(t *testing.T) {
	data := CallbackData(CallbackSnooze, "SOL-USDC_Orca")
	if data != "s:SOL-USDC_Orca" {
		t.Errorf("CallbackData() = %q", data)
	}

	op, key, err := ParseCallback(data)
	if err != nil || op != CallbackSnooze || key != "SOL-USDC_Orca" {
		t.Errorf("ParseCallback() = %v %v %v", op, key, err)
	}

	for _, bad := range []string{"", "x", "x:", "z:key"} {
		if _, _, err := ParseCallback(bad); err == nil {
			t.Errorf("ParseCallback(%q) should fail", bad)
		}
	}
}

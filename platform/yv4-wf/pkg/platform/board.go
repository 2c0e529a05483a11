// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"

	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/power"
	"github.com/u-root/accel-bmc/pkg/readiness"
)

const (
	ASIC1 uint8 = iota
	ASIC2
)

// Board returns the two CXL accelerators of the card and their rail
// sequences.
func (p *platform) Board(cfg config.Power) *power.Board {
	return &power.Board{
		Devices: []*power.Device{
			asic(ASIC1, cfg),
			asic(ASIC2, cfg),
		},
		Aux:          []string{"EN_P3V3_E1S_0_R", "EN_P12V_E1S_0_R"},
		PowerGoodOut: "PG_CARD_OK",
	}
}

func asic(id uint8, cfg config.Power) *power.Device {
	sfx := fmt.Sprintf("ASIC%d", id+1)
	rail := func(name, enable string) power.Rail {
		return power.Rail{Name: name, Enable: enable, PowerGood: "PWRGD_" + name + "_" + sfx}
	}
	core := func(name string) power.Rail {
		return rail(name, "EN_"+name+"_BIC_"+sfx+"_R")
	}
	dimm := func(name, level string) power.Rail {
		return rail(name, "EN_"+name+"_"+sfx+level+"_R")
	}
	clk := power.Rail{Name: "CLK_100M", Enable: "EN_CLK_100M_" + sfx + "_OSC"}
	sysRst := "SYS_RST_" + sfx + "_N_R"
	pwrOnRst := "PWR_ON_RST_" + sfx + "_N"

	return &power.Device{
		ID:   id,
		Name: sfx,
		On: []power.Stage{
			{Name: "CLK", Rails: []power.Rail{clk}, Clock: true},
			{Name: "ASIC_1", Rails: []power.Rail{core("P0V75"), core("P0V8"), core("P0V85")}},
			{Name: "ASIC_2", Rails: []power.Rail{core("P1V2"), core("P1V8")}},
			{Name: "DIMM_1", Rails: []power.Rail{dimm("PVPP_AB", "_2V5"), dimm("PVPP_CD", "_2V5")}},
			{Name: "DIMM_2", Rails: []power.Rail{dimm("PVDDQ_AB", ""), dimm("PVDDQ_CD", "")}},
			{Name: "DIMM_3", Rails: []power.Rail{dimm("PVTT_AB", "_0V6"), dimm("PVTT_CD", "_0V6")}},
		},
		Off: []power.Stage{
			{Name: "DIMM_OFF_1", Rails: []power.Rail{dimm("PVTT_AB", "_0V6"), dimm("PVTT_CD", "_0V6")}},
			{Name: "DIMM_OFF_2", Rails: []power.Rail{dimm("PVDDQ_AB", ""), dimm("PVDDQ_CD", "")}},
			{Name: "DIMM_OFF_3", Rails: []power.Rail{dimm("PVPP_AB", "_2V5"), dimm("PVPP_CD", "_2V5")}},
			{Name: "ASIC_OFF_1", Rails: []power.Rail{
				{Name: "SYS_RST", Enable: sysRst},
				{Name: "PWR_ON_RST", Enable: pwrOnRst},
				core("P0V8"), core("P1V2"), core("P1V8"),
			}},
			// P0V85 may only drop once P1V8 has discharged.
			{Name: "ASIC_OFF_2", Rails: []power.Rail{core("P0V85")}, PreDelay: cfg.P1V8DischargeDelay},
			{Name: "ASIC_OFF_3", Rails: []power.Rail{core("P0V75")}},
			{Name: "CLK_OFF", Rails: []power.Rail{clk}, Clock: true},
		},
		Resets: []string{sysRst, pwrOnRst},
	}
}

// ReadinessDevices describes the firmware heartbeat and PCIe reset of each
// accelerator.
func (p *platform) ReadinessDevices() []readiness.Device {
	var out []readiness.Device
	for _, id := range []uint8{ASIC1, ASIC2} {
		n := id + 1
		out = append(out, readiness.Device{
			ID:            id,
			Name:          fmt.Sprintf("ASIC%d", n),
			HeartbeatLine: fmt.Sprintf("LED_ASIC%d_LS_HB", n),
			Perst:         fmt.Sprintf("PERST_ASIC%d_N_R", n),
		})
	}
	return out
}

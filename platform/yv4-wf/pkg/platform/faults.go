// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"github.com/u-root/accel-bmc/pkg/errlog"
	"github.com/u-root/accel-bmc/pkg/event"
)

// CPLD status registers.
const (
	VRPowerFault1      = 0x0D
	VRPowerFault2      = 0x0E
	VRPowerFault3      = 0x0F
	VRPowerFault4      = 0x10
	VRPowerFault5      = 0x11
	VRSMBusAlert1      = 0x24
	VRSMBusAlert2      = 0x25
	ASICOCWarn         = 0x27
	SystemAlertFault   = 0x28
	VRHotFault1        = 0x29
	VRHotFault2        = 0x2A
	TempICOvertFault   = 0x2B
	VRPowerInputFault1 = 0x2C
	VRPowerInputFault2 = 0x2D
	LeakDetection      = 0x2E
)

// FaultRegisters returns a fresh table of the CPLD registers the fault
// monitor watches. Power fault bits are active high, the alert registers
// idle at 0xFF and leak detection idles with bit 5 clear.
func (p *platform) FaultRegisters() []*event.FaultRegister {
	reg := func(name string, offset, expected uint8) *event.FaultRegister {
		return &event.FaultRegister{
			Name:          name,
			Offset:        offset,
			ExpectedDCOn:  expected,
			ExpectedDCOff: expected,
			Mask:          0xFF,
		}
	}
	return []*event.FaultRegister{
		reg("VR_POWER_FAULT_1", VRPowerFault1, 0x00),
		reg("VR_POWER_FAULT_2", VRPowerFault2, 0x00),
		reg("VR_POWER_FAULT_3", VRPowerFault3, 0x00),
		reg("VR_POWER_FAULT_4", VRPowerFault4, 0x00),
		reg("VR_POWER_FAULT_5", VRPowerFault5, 0x00),
		reg("VR_SMBUS_ALERT_1", VRSMBusAlert1, 0xFF),
		reg("VR_SMBUS_ALERT_2", VRSMBusAlert2, 0xFF),
		reg("ASIC_OC_WARN", ASICOCWarn, 0xFF),
		reg("SYSTEM_ALERT_FAULT", SystemAlertFault, 0xFF),
		reg("VR_HOT_FAULT_1", VRHotFault1, 0xFF),
		reg("VR_HOT_FAULT_2", VRHotFault2, 0xFF),
		reg("TEMPERATURE_IC_OVERT_FAULT", TempICOvertFault, 0xFF),
		reg("VR_POWER_INPUT_FAULT_1", VRPowerInputFault1, 0xFF),
		reg("VR_POWER_INPUT_FAULT_2", VRPowerInputFault2, 0xFF),
		reg("LEAK_DETECTION", LeakDetection, 0xDF),
	}
}

var (
	ubc1 = &errlog.VR{Name: "UBC_1", Bus: VRBus, Addr: 0x14}
	ubc2 = &errlog.VR{Name: "UBC_2", Bus: VRBus, Addr: 0x1A}
	vr1  = &errlog.VR{Name: "P3V3", Bus: VRBus, Addr: 0x7B}
	vr2  = &errlog.VR{Name: "P0V85_PVDD", Bus: VRBus, Addr: 0x26}
	vr3  = &errlog.VR{Name: "P0V75_PVDD_CH_N", Bus: VRBus, Addr: 0x70}
	vr4  = &errlog.VR{Name: "P0V75_PVDD_CH_S", Bus: VRBus, Addr: 0x71}
	vr5  = &errlog.VR{Name: "P0V75_TRVDD_ZONEA", Bus: VRBus, Addr: 0x73}
	vr6  = &errlog.VR{Name: "P0V75_TRVDD_ZONEB", Bus: VRBus, Addr: 0x76}
	vr7  = &errlog.VR{Name: "P1V1_VDDC_HBM0_2_4", Bus: VRBus, Addr: 0x75}
	vr8  = &errlog.VR{Name: "P0V9_TRVDD_ZONEA", Bus: VRBus, Addr: 0x72}
	vr9  = &errlog.VR{Name: "P0V9_TRVDD_ZONEB", Bus: VRBus, Addr: 0x74}
	vr10 = &errlog.VR{Name: "P1V1_VDDC_HBM1_3_5", Bus: VRBus, Addr: 0x77}
	vr11 = &errlog.VR{Name: "P0V8_VDDA_PCIE", Bus: VRBus, Addr: 0x79}
)

// VRTable maps each CPLD fault bit to the regulator whose STATUS_WORD is
// stored with the record. Bits without a regulator are nil.
func (p *platform) VRTable() map[uint8][8]*errlog.VR {
	return map[uint8][8]*errlog.VR{
		VRPowerFault1:      {nil, vr5, vr6, ubc2, ubc1, vr4, vr3, nil},
		VRPowerFault2:      {vr10, vr7, vr8, vr5, vr11, nil, vr8, vr9},
		VRPowerFault3:      {vr4, vr3, vr10, nil, vr7, nil, vr9, vr6},
		VRPowerFault4:      {nil, nil, nil, nil, nil, nil, nil, vr2},
		VRPowerFault5:      {nil, nil, nil, vr1, nil, nil, vr11, nil},
		VRSMBusAlert1:      {vr1, vr10, vr7, vr8, vr9, vr2, vr4, vr3},
		VRSMBusAlert2:      {nil, nil, nil, vr11, vr5, vr6, ubc1, ubc2},
		VRHotFault1:        {vr10, vr7, vr6, vr4, vr5, vr3, vr9, vr8},
		VRHotFault2:        {nil, nil, nil, nil, nil, nil, vr11, vr1},
		VRPowerInputFault1: {vr10, vr7, vr6, vr4, vr5, vr3, vr9, vr8},
		VRPowerInputFault2: {nil, nil, nil, nil, nil, nil, vr11, vr1},
	}
}

// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
)

// Line offsets on the controller's gpiochip0. Reserved pins are left out.
var linePortMap = map[string]uint32{
	"PWR_ON_RST_ASIC1_N":       0,
	"SYS_RST_ASIC1_N_R":        1,
	"PERST_ASIC1_N_R":          2,
	"PERST_ASIC2_N_R":          3,
	"RST_PCIE_MB_EXP_N":        4,
	"BIC_PWR_EN_MCIO":          5,
	"PG_CARD_OK":               6,
	"FM_POWER_EN_R":            7,
	"PWRGD_AUX_R":              8,
	"BIC_READY_R":              9,
	"EN_P0V85_BIC_ASIC2_R":     10,
	"PWRGD_P0V85_ASIC2":        11,
	"EN_P1V2_BIC_ASIC2_R":      12,
	"PWRGD_P1V2_ASIC2":         13,
	"EN_P1V8_BIC_ASIC2_R":      14,
	"PWRGD_P1V8_ASIC2":         15,
	"EN_P0V85_BIC_ASIC1_R":     16,
	"PWRGD_P0V85_ASIC1":        17,
	"EN_P1V2_BIC_ASIC1_R":      18,
	"PWRGD_P1V2_ASIC1":         19,
	"EN_P1V8_BIC_ASIC1_R":      20,
	"PWRGD_P1V8_ASIC1":         21,
	"EN_P0V8_BIC_ASIC1_R":      22,
	"PWRGD_P0V8_ASIC1":         23,
	"EN_PVPP_AB_ASIC1_2V5_R":   24,
	"PWRGD_PVPP_AB_ASIC1":      25,
	"EN_PVPP_CD_ASIC1_2V5_R":   26,
	"PWRGD_PVPP_CD_ASIC1":      27,
	"EN_PVTT_AB_ASIC1_0V6_R":   28,
	"PWRGD_PVTT_AB_ASIC1":      29,
	"EN_PVTT_CD_ASIC1_0V6_R":   30,
	"PWRGD_PVTT_CD_ASIC1":      31,
	"EN_P0V8_BIC_ASIC2_R":      32,
	"PWRGD_P0V8_ASIC2":         33,
	"PWR_ON_RST_ASIC2_N":       34,
	"SYS_RST_ASIC2_N_R":        35,
	"EN_PVPP_AB_ASIC2_2V5_R":   36,
	"PWRGD_PVPP_AB_ASIC2":      37,
	"EN_PVPP_CD_ASIC2_2V5_R":   38,
	"PWRGD_PVPP_CD_ASIC2":      39,
	"PWRGD_PVDDQ_CD_ASIC2":     40,
	"PWRGD_P0V75_ASIC2":        41,
	"EN_P3V3_E1S_0_R":          42,
	"PWRGD_P3V3_E1S_0_R":       43,
	"EN_PVTT_AB_ASIC2_0V6_R":   44,
	"PWRGD_PVTT_AB_ASIC2":      45,
	"EN_PVTT_CD_ASIC2_0V6_R":   46,
	"PWRGD_PVTT_CD_ASIC2":      47,
	"LED_ASIC1_LS_HB":          48,
	"LED_ASIC2_LS_HB":          49,
	"EN_P12V_E1S_0_R":          50,
	"PWRGD_P12V_E1S_0_R":       51,
	"EN_PVDDQ_AB_ASIC1_R":      52,
	"PWRGD_PVDDQ_AB_ASIC1":     53,
	"EN_PVDDQ_CD_ASIC1_R":      54,
	"PWRGD_PVDDQ_CD_ASIC1":     55,
	"EN_P0V75_BIC_ASIC1_R":     56,
	"PWRGD_P0V75_ASIC1":        57,
	"EN_P5V_STBY_BIC_R":        58,
	"PWRGD_P5V_STBY_BIC_R":     59,
	"PWRGD_P1V2_STBY":          92,
	"EN_PVDDQ_AB_ASIC2_R":      93,
	"PWRGD_PVDDQ_AB_ASIC2":     94,
	"EN_PVDDQ_CD_ASIC2_R":      95,
	"EN_SPI_BIC_ASIC2_SHIFT_R": 96,
	"EN_P0V75_BIC_ASIC2_R":     97,
	"EN_SPI_BIC_ASIC1_SHIFT_R": 98,
	"FM_PWRBRK_PRIMARY_R_N":    99,
	"EN_CLK_100M_ASIC1_OSC":    105,
	"EN_CLK_100M_ASIC2_OSC":    107,
}

// PCIe reset is active low. Read through the inverted flag, true means the
// device is held in reset.
var lineFlags = map[string]int{
	"PERST_ASIC1_N_R":       gpio.GPIO_INVERTED,
	"PERST_ASIC2_N_R":       gpio.GPIO_INVERTED,
	"FM_PWRBRK_PRIMARY_R_N": gpio.GPIO_INVERTED,
}

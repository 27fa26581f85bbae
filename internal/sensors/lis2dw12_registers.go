// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "fmt"

// BitField describes one field of a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is static metadata for one register.
type RegisterInfo struct {
	Address     byte       `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R" or "RW"
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// RegisterValue pairs register metadata with a value read from the device.
type RegisterValue struct {
	RegisterInfo
	Value string `json:"value"`
}

// RegisterMap returns metadata for the registers this driver touches.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: regWhoAmI, Name: "WHO_AM_I", Description: "Device identification", Access: "R",
			BitFields: []BitField{
				{Bits: "7:0", Name: "WHO_AM_I", Description: "Fixed identity", Values: "0x44"},
			}},
		{Address: regCtrl1, Name: "CTRL1", Description: "Rate and power mode", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:4", Name: "ODR", Description: "Output data rate", Values: "0=off, 1=12.5/1.6Hz, 2=12.5Hz ... 9=1600Hz"},
				{Bits: "3:2", Name: "MODE", Description: "Power mode", Values: "0=Low power, 1=High performance, 2=On demand"},
				{Bits: "1:0", Name: "LP_MODE", Description: "Low power sub-mode", Values: "0=LP1 12-bit, 1..3=LP2..LP4 14-bit"},
			}},
		{Address: regCtrl2, Name: "CTRL2", Description: "Interface control", Access: "RW",
			BitFields: []BitField{
				{Bits: "3", Name: "BDU", Description: "Block data update", Values: "0=Continuous, 1=Hold until read"},
				{Bits: "2", Name: "IF_ADD_INC", Description: "Register auto-increment", Values: "0=Off, 1=On"},
			}},
		{Address: regCtrl6, Name: "CTRL6", Description: "Filtering and full scale", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:6", Name: "BW_FILT", Description: "Bandwidth", Values: "0=ODR/2, 1=ODR/4, 2=ODR/10, 3=ODR/20"},
				{Bits: "5:4", Name: "FS", Description: "Full scale", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
				{Bits: "3", Name: "FDS", Description: "Filtered data selection", Values: "0=Low pass, 1=High pass"},
				{Bits: "2", Name: "LOW_NOISE", Description: "Low noise", Values: "0=Off, 1=On"},
			}},
	}
}

// DumpRegisters reads every register in RegisterMap.
func (d *Dev) DumpRegisters() ([]RegisterValue, error) {
	regs := RegisterMap()
	out := make([]RegisterValue, 0, len(regs))
	for _, r := range regs {
		v, err := d.readReg(r.Address)
		if err != nil {
			return out, err
		}
		out = append(out, RegisterValue{RegisterInfo: r, Value: fmt.Sprintf("0x%02X", v)})
	}
	return out, nil
}

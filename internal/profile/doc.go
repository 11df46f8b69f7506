// Package profile loads the equipment profile, the list of INDI drivers an
// observatory keeps loaded, and keeps the running drivers in line with it.
//
// Example profile:
//
//	name: Backyard EQ6
//	drivers:
//	  - label: mount
//	    binary: indi_eqmod_telescope
//	    skeleton: /usr/share/indi/indi_eqmod_sk.xml
//	  - binary: indi_asi_ccd
package profile

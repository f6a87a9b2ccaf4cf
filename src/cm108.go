package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Use the CM108/CM119 (or compatible) GPIO pins for the Push To Talk (PTT) Control.
 *
 * Description:
 *
 *	Many USB audio adapters built for radio use (DMK URI, RB-USB RIM, RA-35,
 *	DINAH, AIOC and a pile of homebrew fobs) drive PTT from a GPIO pin of the
 *	C-Media chip.  The pin is set by writing a HID output report to the
 *	matching /dev/hidrawN.
 *
 *	Homebrew plans all use GPIO 3 because it is easier to tack solder a wire to a pin on the end.
 *	All of the products, that I have seen, also use the same pin so this is the default.
 *
 *	The hard part is finding which hidraw goes with which sound card when
 *	there are several adapters.  Both hang off the same USB device so udev
 *	can tell us.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
	"golang.org/x/sys/unix"
)

const CM108DefaultGPIO = 3

// CM108GoodDevice reports whether a USB vendor and product are known to have GPIO pins for PTT.
func CM108GoodDevice(vid, pid uint16) bool {
	switch vid {
	case 0x0d8c: // C-Media
		return (pid >= 0x0008 && pid <= 0x000f) || pid == 0x0012 || pid == 0x0013 ||
			pid == 0x0139 || pid == 0x013a || pid == 0x013c
	case 0x0c76: // SSS
		return pid == 0x1605 || pid == 0x1607 || pid == 0x160b
	case 0x1209: // AIOC
		return pid == 0x7388
	default:
		return false
	}
}

// CM108Device is one USB HID, along with the sound card on the same USB device if there is one.
type CM108Device struct {
	VID     uint16
	PID     uint16
	Product string
	Card    string // Sound card number, e.g. 2 for plughw:2,0.
	CardID  string // Sound card name, assigned by the system or by a udev rule.
	HIDRaw  string // e.g. /dev/hidraw3
}

func (d CM108Device) Supported() bool {
	return CM108GoodDevice(d.VID, d.PID)
}

// InventoryCM108 lists USB HIDs and the sound cards that share their USB device.
func InventoryCM108() ([]CM108Device, error) {
	var u udev.Udev

	type card struct{ number, id string }
	var cards = make(map[string]card)

	var snd = u.NewEnumerate()
	if err := snd.AddMatchSubsystem("sound"); err != nil {
		return nil, fmt.Errorf("udev: %w", err)
	}
	var sounds, err = snd.Devices()
	if err != nil {
		return nil, fmt.Errorf("udev: list sound devices: %w", err)
	}

	for _, d := range sounds {
		if !strings.HasPrefix(d.Sysname(), "card") {
			continue
		}
		var parent = d.ParentWithSubsystemDevtype("usb", "usb_device")
		if parent == nil {
			continue
		}
		cards[parent.Syspath()] = card{number: d.SysattrValue("number"), id: d.SysattrValue("id")}
	}

	var hid = u.NewEnumerate()
	if err := hid.AddMatchSubsystem("hidraw"); err != nil {
		return nil, fmt.Errorf("udev: %w", err)
	}
	var hids, hidErr = hid.Devices()
	if hidErr != nil {
		return nil, fmt.Errorf("udev: list hidraw devices: %w", hidErr)
	}

	var devices []CM108Device
	for _, d := range hids {
		var parent = d.ParentWithSubsystemDevtype("usb", "usb_device")
		if parent == nil || d.Devnode() == "" {
			continue
		}

		var vid, _ = strconv.ParseUint(parent.SysattrValue("idVendor"), 16, 16)
		var pid, _ = strconv.ParseUint(parent.SysattrValue("idProduct"), 16, 16)
		var c = cards[parent.Syspath()]

		devices = append(devices, CM108Device{
			VID:     uint16(vid),
			PID:     uint16(pid),
			Product: parent.SysattrValue("product"),
			Card:    c.number,
			CardID:  c.id,
			HIDRaw:  d.Devnode(),
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].HIDRaw < devices[j].HIDRaw })

	return devices, nil
}

// FindCM108 picks the hidraw device for PTT, preferring the one on the same
// adapter as the audio device.
func FindCM108(audioDevice string) (string, error) {
	var devices, err = InventoryCM108()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRigUnreachable, err)
	}

	return selectCM108(devices, audioDevice)
}

var hwCardPattern = regexp.MustCompile(`hw:(\d+)`)

func selectCM108(devices []CM108Device, audioDevice string) (string, error) {
	var candidates []CM108Device
	for _, d := range devices {
		if d.Supported() && d.HIDRaw != "" {
			candidates = append(candidates, d)
		}
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no CM108 compatible USB audio adapter found", ErrRigUnreachable)
	}

	if audioDevice == "" {
		return candidates[0].HIDRaw, nil
	}

	if m := hwCardPattern.FindStringSubmatch(audioDevice); m != nil {
		for _, d := range candidates {
			if d.Card == m[1] {
				return d.HIDRaw, nil
			}
		}
	}

	var want = strings.ToLower(audioDevice)
	for _, d := range candidates {
		if (d.CardID != "" && strings.Contains(want, strings.ToLower(d.CardID))) ||
			(d.Product != "" && strings.Contains(want, strings.ToLower(d.Product))) {
			return d.HIDRaw, nil
		}
	}

	if len(candidates) == 1 {
		return candidates[0].HIDRaw, nil
	}

	return "", fmt.Errorf("%w: %d CM108 adapters found and none matches audio device %q, use --ptt-device", ErrRigUnreachable, len(candidates), audioDevice)
}

// CM108Report builds the HID output report that sets one GPIO pin.
//
// The first two bytes are 0.  Then the data and the mask for the four pins.
// Writing 4 bytes fails with EPIPE, 5 works.
func CM108Report(gpio int, state bool) ([]byte, error) {
	if gpio < 1 || gpio > 8 {
		return nil, fmt.Errorf("CM108 GPIO number %d must be in range of 1 - 8", gpio)
	}

	var iomask = byte(1 << (gpio - 1))
	var iodata byte
	if state {
		iodata = iomask
	}

	return []byte{0, 0, iodata, iomask, 0}, nil
}

type hidWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// CM108Rig drives PTT with a GPIO pin of a CM108 style USB audio adapter.
type CM108Rig struct {
	dev    hidWriter
	path   string
	gpio   int
	invert bool
}

func OpenCM108Rig(path string, gpio int, invert bool, logger *log.Logger) (*CM108Rig, error) {
	if _, err := CM108Report(gpio, false); err != nil {
		return nil, err
	}

	var f, err = os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		// Usually permissions.  A udev rule like
		//	SUBSYSTEM=="hidraw", ATTRS{idVendor}=="0d8c", GROUP="audio", MODE="0660"
		// takes care of it.
		return nil, fmt.Errorf("%w: open %s for write: %w", ErrRigUnreachable, path, err)
	}

	// Just for fun, let's get the device information.
	var info, ioctlErr = unix.IoctlHIDGetRawInfo(int(f.Fd()))
	if ioctlErr == nil && !CM108GoodDevice(uint16(info.Vendor), uint16(info.Product)) {
		logger.Warn("Not a supported device type, proceed at your own risk",
			"device", path, "vid", fmt.Sprintf("%04x", uint16(info.Vendor)), "pid", fmt.Sprintf("%04x", uint16(info.Product)))
	}

	var rig = &CM108Rig{dev: f, path: path, gpio: gpio, invert: invert}
	if err := rig.SetTransmit(false); err != nil {
		_ = f.Close()
		return nil, err
	}

	return rig, nil
}

func (r *CM108Rig) SetTransmit(on bool) error {
	var report, err = CM108Report(r.gpio, on != r.invert)
	if err != nil {
		return err
	}

	var n, writeErr = r.dev.Write(report)
	if writeErr != nil {
		return fmt.Errorf("%w: write to %s: %w", ErrRigUnreachable, r.path, writeErr)
	}
	if n != len(report) {
		return fmt.Errorf("%w: short write to %s, %d of %d bytes", ErrRigUnreachable, r.path, n, len(report))
	}

	return nil
}

func (r *CM108Rig) Close() error {
	return r.dev.Close()
}

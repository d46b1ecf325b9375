//go:build darwin && cgo

package keystroke

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework Foundation

#include <ApplicationServices/ApplicationServices.h>
#include <pthread.h>
#include <stdint.h>
#include <unistd.h>

// Defined in Go (keystroke_darwin_bridge.go).
extern void snipdKeyEvent(unsigned short keycode, unsigned int scalar, unsigned long long flags);
extern void snipdMouseEvent(void);

// Run loop state
static CFRunLoopRef tapRunLoop = NULL;
static volatile int tapEnabled = 0;

static void stopEventTap(void);

static CFMachPortRef eventTap = NULL;
static CFRunLoopSourceRef runLoopSource = NULL;

static CGEventRef eventCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
    (void)proxy;
    (void)refcon;

    // The system disables a tap whose callback is too slow; re-enable and
    // keep going.
    if (type == kCGEventTapDisabledByUserInput || type == kCGEventTapDisabledByTimeout) {
        if (eventTap != NULL) {
            CGEventTapEnable(eventTap, true);
        }
        return event;
    }

    if (type == kCGEventLeftMouseDown || type == kCGEventRightMouseDown || type == kCGEventOtherMouseDown) {
        snipdMouseEvent();
        return event;
    }

    if (type == kCGEventKeyDown) {
        int64_t keycode = CGEventGetIntegerValueField(event, kCGEventKeyboardEventKeycode);
        CGEventFlags flags = CGEventGetFlags(event);

        UniChar chars[4];
        UniCharCount len = 0;
        CGEventKeyboardGetUnicodeString(event, 4, &len, chars);

        uint32_t scalar = 0;
        if (len > 0) {
            scalar = chars[0];
            if (scalar >= 0xD800 && scalar <= 0xDBFF && len > 1) {
                scalar = 0x10000 + ((scalar - 0xD800) << 10) + (chars[1] - 0xDC00);
            }
        }
        snipdKeyEvent((unsigned short)keycode, scalar, (unsigned long long)flags);
    }
    return event;
}

static void* runLoopThread(void* arg) {
    (void)arg;

    tapRunLoop = CFRunLoopGetCurrent();
    CFRunLoopAddSource(tapRunLoop, runLoopSource, kCFRunLoopCommonModes);
    CGEventTapEnable(eventTap, true);
    tapEnabled = 1;

    CFRunLoopRun();

    tapEnabled = 0;
    tapRunLoop = NULL;
    return NULL;
}

static pthread_t runLoopThreadHandle;
static volatile int threadRunning = 0;

static int startEventTap(void) {
    if (eventTap != NULL) {
        return 1; // already running
    }

    CGEventMask eventMask = CGEventMaskBit(kCGEventKeyDown)
        | CGEventMaskBit(kCGEventLeftMouseDown)
        | CGEventMaskBit(kCGEventRightMouseDown)
        | CGEventMaskBit(kCGEventOtherMouseDown);

    // Listen-only: we observe, filtering of our own synthetic output
    // happens on the Go side via the suppression window.
    eventTap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionListenOnly,
        eventMask,
        eventCallback,
        NULL
    );

    if (eventTap == NULL) {
        return -1; // permission denied or not available
    }

    runLoopSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, eventTap, 0);
    if (runLoopSource == NULL) {
        CFRelease(eventTap);
        eventTap = NULL;
        return -2;
    }

    threadRunning = 1;
    if (pthread_create(&runLoopThreadHandle, NULL, runLoopThread, NULL) != 0) {
        CFRelease(runLoopSource);
        CFRelease(eventTap);
        runLoopSource = NULL;
        eventTap = NULL;
        threadRunning = 0;
        return -3;
    }

    for (int i = 0; i < 100 && !tapEnabled; i++) {
        usleep(10000); // 10ms
    }
    if (!tapEnabled) {
        stopEventTap();
        return -4;
    }
    return 0;
}

static void stopEventTap(void) {
    if (eventTap == NULL) {
        return;
    }

    CGEventTapEnable(eventTap, false);
    tapEnabled = 0;

    if (tapRunLoop != NULL) {
        CFRunLoopStop(tapRunLoop);
    }
    if (threadRunning) {
        pthread_join(runLoopThreadHandle, NULL);
        threadRunning = 0;
    }
    if (runLoopSource != NULL) {
        CFRelease(runLoopSource);
        runLoopSource = NULL;
    }
    if (eventTap != NULL) {
        CFRelease(eventTap);
        eventTap = NULL;
    }
    tapRunLoop = NULL;
}

static int checkAccessibility(void) {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @NO};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}

static int promptAccessibility(void) {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"context"
)

// DarwinSource observes input through a CGEventTap.
type DarwinSource struct {
	BaseSource
	ctx    context.Context
	cancel context.CancelFunc
}

func newPlatformSource() Source {
	return &DarwinSource{}
}

// Available checks whether the tap can be created.
func (d *DarwinSource) Available() (bool, string) {
	if C.checkAccessibility() == 1 {
		return true, "CGEventTap available"
	}
	return false, "Accessibility permission required. Go to System Settings > Privacy & Security > Accessibility and add this application."
}

// CheckAccessibility returns true if accessibility permissions are granted.
func CheckAccessibility() bool {
	return C.checkAccessibility() == 1
}

// PromptAccessibility checks permissions and prompts the user if not granted.
func PromptAccessibility() bool {
	return C.promptAccessibility() == 1
}

// Start creates the event tap and its run loop thread.
func (d *DarwinSource) Start(ctx context.Context) error {
	if d.IsRunning() {
		return ErrAlreadyRunning
	}
	if C.checkAccessibility() != 1 {
		return ErrPermissionDenied
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.Events() // allocate before the tap can emit
	setActiveDarwinSource(d)

	switch rc := C.startEventTap(); rc {
	case 0, 1:
	case -1:
		setActiveDarwinSource(nil)
		return ErrPermissionDenied
	default:
		setActiveDarwinSource(nil)
		return ErrNotAvailable
	}

	d.SetRunning(true)
	return nil
}

// Stop tears down the tap. The run loop thread is joined inside
// stopEventTap, so no events can arrive after Stop returns.
func (d *DarwinSource) Stop() error {
	if !d.IsRunning() {
		return nil
	}
	C.stopEventTap()
	setActiveDarwinSource(nil)
	if d.cancel != nil {
		d.cancel()
	}
	d.SetRunning(false)
	d.CloseEvents()
	return nil
}

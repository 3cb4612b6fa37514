// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !ftdi_debug

package ftdi

// logf is disabled when the build tag ftdi_debug is not specified.
func logf(fmt string, v ...interface{}) {
}

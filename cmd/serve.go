// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sidkshatriya/cdt-gdb-adapter/gdb"
	"github.com/sidkshatriya/cdt-gdb-adapter/session"
)

var servePort int

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen on this TCP port instead of stdio, accepting one connection at a time")
	serveCmd.Flags().String("gdb", "gdb", "stored as the gdb-executable setting; sessions do not read it and take the gdb executable from the launch/attach \"gdb\" argument (default \"gdb\")")
	viper.BindPFlag("gdb-executable", serveCmd.Flags().Lookup("gdb"))
}

// serveCmd starts one DAP session per connection (or one over stdio),
// mirroring the teacher's record/replay subcommands each owning a
// net.Listener, generalized to a single serve verb since this adapter
// has only one session shape.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Speak the Debug Adapter Protocol over stdio or a TCP socket, driving gdb",
	Run: func(cmd *cobra.Command, args []string) {
		verbose := viper.GetBool("verbose")
		ctx := context.Background()

		if servePort == 0 {
			runSession(ctx, os.Stdin, os.Stdout, verbose)
			return
		}

		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(servePort))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			log.Fatalf("cdt-gdb-adapter: listen %s: %v", addr, err)
		}
		color.Yellow("cdt-gdb-adapter: listening on %v", addr)
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Printf("cdt-gdb-adapter: accept: %v", err)
				continue
			}
			go func(c net.Conn) {
				defer c.Close()
				runSession(ctx, c, c, verbose)
			}(conn)
		}
	},
}

func runSession(ctx context.Context, r io.Reader, w io.Writer, verbose bool) {
	launcher := &gdb.ExecLauncher{Stderr: os.Stderr}
	s := session.New(r, w, launcher)
	s.Verbose = verbose
	if err := s.Run(ctx); err != nil {
		log.Printf("cdt-gdb-adapter: session ended: %v", err)
	}
}

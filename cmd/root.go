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
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "cdt-gdb-adapter",
	Short: "A Debug Adapter Protocol server that drives GDB over its machine interface.\nCopyright (c) Sidharth Kshatriya 2016",
}

// Execute adds all child commands to the root command and runs it. It
// only needs to happen once, from main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "trace every MI command sent to and received from gdb")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cdt-gdb-adapter.yaml)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	viper.SetConfigName(".cdt-gdb-adapter")
	viper.AddConfigPath("$HOME")
	viper.AutomaticEnv()
	viper.SetConfigType("yaml")

	viper.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
	viper.SetDefault("gdb-executable", "gdb")

	if err := viper.ReadInConfig(); err == nil {
		color.Yellow("cdt-gdb-adapter: using config file: %v", viper.ConfigFileUsed())
	}
}

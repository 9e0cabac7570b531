package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var pprofProfile bool

var profileCloser func()

func makeProfileCloser(pprofProfile bool) func() {
	if !pprofProfile {
		return func() {}
	}

	cpuprofile := "btlog-cpu.prof"
	memprofile := "btlog-mem.prof"
	blockprofile := "btlog-block.pprof"
	memprof, err := os.Create(memprofile)
	if err != nil {
		log.Fatal(err)
	}
	cpuprof, err := os.Create(cpuprofile)
	if err != nil {
		log.Fatal(err)
	}
	if err := pprof.StartCPUProfile(cpuprof); err != nil {
		log.Fatal(err)
	}

	runtime.SetBlockProfileRate(100e6)
	blockProfile, err := os.Create(blockprofile)
	if err != nil {
		log.Fatal(err)
	}

	return func() {
		pprof.StopCPUProfile()
		cpuprof.Close()

		if err := pprof.WriteHeapProfile(memprof); err != nil {
			log.Fatal(err)
		}
		memprof.Close()

		if err := pprof.Lookup("block").WriteTo(blockProfile, 0); err != nil {
			log.Fatal(err)
		}
		blockProfile.Close()

		fmt.Fprintf(os.Stderr, "Wrote profiles to %s, %s, and %s\n", cpuprofile, memprofile, blockprofile)
	}
}

var rootCmd = &cobra.Command{
	Use:   "btlog",
	Short: "Reads, indexes, and randomly accesses binary robot-telemetry logs.",
	PersistentPreRun: func(*cobra.Command, []string) {
		profileCloser = makeProfileCloser(pprofProfile)
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		profileCloser()
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

// die prints a message and exits 1. badArg exits 2, per §6's exit code
// convention; I/O and other failures exit 1.
func die(s string, args ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(s, args...))
	os.Exit(1)
}

func badArg(s string, args ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(s, args...))
	os.Exit(2)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.btlog.yaml)")
	rootCmd.PersistentFlags().BoolVar(
		&pprofProfile,
		"pprof-profile",
		false,
		"Record pprof profiles of command execution. "+
			"Profiles will be written to btlog-mem.prof, btlog-cpu.prof, and btlog-block.pprof. "+
			"Defaults to false.",
	)
	rootCmd.InitDefaultVersionFlag()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".btlog")
	}
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
